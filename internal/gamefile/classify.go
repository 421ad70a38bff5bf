package gamefile

import (
	"github.com/tidwall/gjson"
)

// GameType classifies a game as a regular season or tournament game.
type GameType string

const (
	GameTypeSeason     GameType = "season"
	GameTypeTournament GameType = "tournament"
)

// DefaultTournamentScheduleID is the league schedule that holds tournament games.
const DefaultTournamentScheduleID int64 = 183835

// DefaultTournamentScheduleIDs is the classification table used when none is configured.
var DefaultTournamentScheduleIDs = []int64{DefaultTournamentScheduleID}

// ResolveScheduleID returns the schedule id of a game record: the top-level
// schedule_id, or detailed_game_info.scheduleId when the former is absent or
// falsy. The result may not exist.
func ResolveScheduleID(doc []byte) gjson.Result {
	id := gjson.GetBytes(doc, "schedule_id")
	if Truthy(id) {
		return id
	}

	info := gjson.GetBytes(doc, "detailed_game_info")
	if info.IsObject() {
		return info.Get("scheduleId")
	}
	return id
}

// Classify maps a resolved schedule id to a game type. Only numeric ids
// listed in tournamentIDs are tournaments.
func Classify(scheduleID gjson.Result, tournamentIDs []int64) GameType {
	if scheduleID.Type != gjson.Number {
		return GameTypeSeason
	}
	for _, id := range tournamentIDs {
		if scheduleID.Num == float64(id) {
			return GameTypeTournament
		}
	}
	return GameTypeSeason
}

// ClassifyDocument resolves and classifies in one step.
func ClassifyDocument(doc []byte, tournamentIDs []int64) GameType {
	return Classify(ResolveScheduleID(doc), tournamentIDs)
}

// TypeOf returns the stored game_type of a record, classifying it when the
// field is missing.
func TypeOf(doc []byte, tournamentIDs []int64) GameType {
	stored := gjson.GetBytes(doc, "game_type")
	if stored.Type == gjson.String {
		return GameType(stored.Str)
	}
	return ClassifyDocument(doc, tournamentIDs)
}
