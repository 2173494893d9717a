package packet

// Builders for the score-related S2C packets this core emits. Layouts are
// little-endian throughout.

// ScoreUpdate is the 4-field score snapshot for one player.
func ScoreUpdate(playerID int16, killPoints, flagPoints int32, kills, deaths uint16) []byte {
	w := NewWriterWithType(S2CScoreUpdate)
	w.WriteHS(playerID)
	w.WriteD(killPoints)
	w.WriteD(flagPoints)
	w.WriteH(kills)
	w.WriteH(deaths)
	return w.Bytes()
}

// Goal announces a scored goal and the scoring freq's reward points.
func Goal(scoringFreq int16, points int32) []byte {
	w := NewWriterWithType(S2CGoal)
	w.WriteHS(scoringFreq)
	w.WriteD(points)
	return w.Bytes()
}

// ScoreReset zeroes a player's client-side scores; playerID -1 targets the
// whole arena.
func ScoreReset(playerID int16) []byte {
	w := NewWriterWithType(S2CScoreReset)
	w.WriteHS(playerID)
	return w.Bytes()
}

// PeriodicRewardItem is one freq's share of a periodic reward.
type PeriodicRewardItem struct {
	Freq   int16
	Points int16
}

// PeriodicReward builds one or more reward packets from items, fragmenting
// so no packet exceeds MaxPeriodicPayload bytes.
func PeriodicReward(items []PeriodicRewardItem) [][]byte {
	const perPacket = (MaxPeriodicPayload - 1) / 4
	var out [][]byte
	for len(items) > 0 {
		n := len(items)
		if n > perPacket {
			n = perPacket
		}
		w := NewWriterWithType(S2CPeriodicReward)
		for _, it := range items[:n] {
			w.WriteHS(it.Freq)
			w.WriteHS(it.Points)
		}
		out = append(out, w.Bytes())
		items = items[n:]
	}
	return out
}

// SpeedStatsEntry is one row of the end-of-round top five.
type SpeedStatsEntry struct {
	PlayerID int16
	Score    int32
}

// SpeedStats is the personal end-of-round result packet: the recipient's
// own rank/score/best plus the top five. Absent top-five rows are zeroed.
func SpeedStats(best int32, rank uint16, score int32, top [5]SpeedStatsEntry) []byte {
	w := NewWriterWithType(S2CSpeedStats)
	w.WriteD(best)
	w.WriteH(rank)
	w.WriteD(score)
	for _, e := range top {
		w.WriteD(e.Score)
	}
	for _, e := range top {
		w.WriteHS(e.PlayerID)
	}
	return w.Bytes()
}

// LoginResponse reports the authentication verdict.
func LoginResponse(code byte) []byte {
	w := NewWriterWithType(S2CLoginResponse)
	w.WriteC(code)
	return w.Bytes()
}

// EnteringArena closes the arena-entry burst; the client switches to the
// in-game screen on receipt.
func EnteringArena() []byte {
	w := NewWriterWithType(S2CEnteringArena)
	return w.Bytes()
}

// Chat builds an outbound chat message. kind selects the chat channel
// (arena, private, freq…); pid is the speaking player or -1 for the server.
func Chat(kind, sound byte, pid int16, text string) []byte {
	w := NewWriterWithType(S2CChat)
	w.WriteC(kind)
	w.WriteC(sound)
	w.WriteHS(pid)
	w.WriteS(text)
	return w.Bytes()
}
