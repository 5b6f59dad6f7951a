package game

import "fmt"

// badTag is the fallback start/end word for an assignment with an
// unrecognised or missing flavor.
const badTag = "BADTAG"

// Stash is the badge's current stash as read at connect time: the raw
// payload and whether it was served from the backup cache because the
// on-device register had been clobbered.
type Stash struct {
	Data       []byte
	FromBackup bool
}

// ProgramForTag is the pure core of the game: given which station the
// badge is visiting, its static assignment, the transition table, and
// its last known stash, decide what to display next and what state to
// write back. A nil result means leave the badge's display alone.
func ProgramForTag(stationID int, rules Ruleset, cfg Assignment, stash *Stash) *Program {
	start, ok := rules.FlavorStart[cfg.Flavor]
	if !ok {
		start = badTag
	}
	end, ok := rules.FlavorEnd[cfg.Flavor]
	if !ok {
		end = badTag
	}

	var state *State
	if stash != nil {
		if s, ok := Decode(stash.Data); ok {
			state = &s
		}
	}

	if stationID == 0 {
		if state != nil && (state.Phase == PhaseGame || state.Phase == PhaseWin) && !stash.FromBackup {
			return nil
		}
		return &Program{
			NewState: State{Phase: PhaseGame, String: start},
			Scenes: []Scene{
				{ImageName: "need-tag" + cfg.Flavor, Text: end, Bold: true},
				{ImageName: "use-guides"},
				{ImageName: "give", Text: quote(start), Bold: true, Blink: true},
			},
		}
	}

	if state == nil {
		return &Program{
			NewState: State{Phase: PhaseReset},
			Scenes:   []Scene{{ImageName: "tag-reset"}},
		}
	}

	if state.Phase != PhaseGame {
		return nil
	}

	lastWord := state.String
	lastStation := int(state.Number)

	if lastStation == stationID {
		if stash.FromBackup {
			return &Program{
				NewState: *state,
				Scenes: []Scene{
					{ImageName: fmt.Sprintf("give-station%d", stationID), Text: quote(lastWord), Bold: true, Blink: true},
				},
			}
		}
		return nil
	}

	next, advanced := rules.StationWord[stationID][lastWord]
	if advanced && next == end {
		return &Program{
			NewState: State{Phase: PhaseWin},
			Scenes: []Scene{
				{ImageName: fmt.Sprintf("accept-station%d", stationID), Text: quote(lastWord)},
				{ImageName: "success", Text: quote(next), Bold: true, Blink: true},
			},
		}
	}
	if advanced {
		return &Program{
			NewState: State{Phase: PhaseGame, Number: int16(stationID), String: next},
			Scenes: []Scene{
				{ImageName: fmt.Sprintf("accept-station%d", stationID), Text: quote(lastWord)},
				{ImageName: fmt.Sprintf("give-station%d", stationID), Text: quote(next), Bold: true, Blink: true},
			},
		}
	}

	restart, ok := rules.Checkpoint[lastWord]
	if !ok {
		restart = start
	}
	if lastWord == restart {
		return &Program{
			NewState: State{Phase: PhaseGame, Number: int16(stationID), String: restart},
			Scenes: []Scene{
				{ImageName: fmt.Sprintf("reject-station%d", stationID), Text: quote(lastWord)},
				{ImageName: "maybe-try-another"},
			},
		}
	}

	if rules.CheckpointStation[restart] == stationID {
		skip := rules.StationWord[stationID][restart]
		return &Program{
			NewState: State{Phase: PhaseGame, Number: int16(stationID), String: skip},
			Scenes: []Scene{
				{ImageName: fmt.Sprintf("reject-station%d", stationID), Text: quote(lastWord)},
				{ImageName: "was-back-at", Text: quote(restart)},
				{ImageName: fmt.Sprintf("accept-station%d", stationID), Text: quote(restart)},
				{ImageName: fmt.Sprintf("give-station%d", stationID), Text: quote(skip), Bold: true, Blink: true},
			},
		}
	}

	return &Program{
		NewState: State{Phase: PhaseGame, Number: int16(stationID), String: restart},
		Scenes: []Scene{
			{ImageName: fmt.Sprintf("reject-station%d", stationID), Text: quote(lastWord)},
			{ImageName: "now-back-at", Text: quote(restart), Bold: true, Blink: true},
			{ImageName: "now-visit-another"},
		},
	}
}

func quote(s string) string {
	return `"` + s + `"`
}
