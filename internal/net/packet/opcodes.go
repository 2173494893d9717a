package packet

// Packet type bytes. The C2S and S2C namespaces are independent, as in the
// VIE protocol.

// Client → server.
const (
	C2SGotoArena  byte = 0x01
	C2SLeaveArena byte = 0x02
	C2SPosition   byte = 0x03
	C2SDeath      byte = 0x05
	C2SChat       byte = 0x06
	C2SLogin      byte = 0x09
	C2SSetFreq    byte = 0x0F
	C2SPickupFlag byte = 0x13
	C2SDropFlags  byte = 0x15
	C2SSetShip    byte = 0x18
	C2SShootBall  byte = 0x1F
	C2SPickupBall byte = 0x20
	C2SGoal       byte = 0x21
)

// Server → client.
const (
	S2CEnteringArena  byte = 0x02
	S2CChat           byte = 0x07
	S2CScoreUpdate    byte = 0x09
	S2CLoginResponse  byte = 0x0A
	S2CGoal           byte = 0x17
	S2CScoreReset     byte = 0x1A
	S2CPeriodicReward byte = 0x23
	S2CSpeedStats     byte = 0x24
)

// MaxPeriodicPayload caps one periodic-reward packet: the type byte plus up
// to 128 freq/points pairs is 513 bytes; larger reward sets are fragmented.
const MaxPeriodicPayload = 513
