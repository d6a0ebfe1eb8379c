package toolchain

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cwbudde/bctune/internal/eval"
)

const (
	winnerMarker = ") wins ("
	firstMarker  = "(A)"
	reasonPrefix = "[server] Reason: "
)

var shortReasons = map[string]string{
	"The winning team destroyed all of the enemy team's rat kings.": "Kings",
	"The winning team won arbitrarily (coin flip).":                 "Coin",
	"Other team has resigned. ":                                     "Resignation",
}

// DefaultMatchCommand runs one match through the gradle wrapper.
func DefaultMatchCommand() Command {
	return Command{
		"./gradlew", "run",
		"-PteamA={{.First}}",
		"-PteamB={{.Second}}",
		"-Pmaps={{.Map}}",
		"-PlanguageA=java",
		"-PlanguageB=java",
		"-Preplay=matches/opt-{{.Stamp}}-{{.First}}-vs-{{.Second}}-on-{{.Map}}.bc26",
	}
}

// MatchData is the template data of a match command.
type MatchData struct {
	First  string
	Second string
	Map    string
	Stamp  string
}

// MatchRunner plays a match as a subprocess and parses its transcript.
type MatchRunner struct {
	Dir     string
	Command Command
	Now     func() time.Time
	Logger  *slog.Logger
}

// RunMatch implements eval.MatchRunner.
func (r *MatchRunner) RunMatch(ctx context.Context, first, second, scenario string) (eval.MatchResult, error) {
	command := r.Command
	if len(command) == 0 {
		command = DefaultMatchCommand()
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	tmpls, err := command.compile()
	if err != nil {
		return eval.MatchResult{}, err
	}
	argv, err := render(tmpls, MatchData{First: first, Second: second, Map: scenario, Stamp: now().Format("20060102_150405")})
	if err != nil {
		return eval.MatchResult{}, err
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("starting match", "first", first, "second", second, "map", scenario)

	out, err := run(ctx, r.Dir, argv)
	if err != nil {
		return eval.MatchResult{}, err
	}

	res, err := ParseTranscript(string(out))
	if err != nil {
		return eval.MatchResult{}, fmt.Errorf("%s vs %s on %s: %w", first, second, scenario, err)
	}
	logger.Debug("match completed", "map", scenario, "winner", res.Winner.String(), "reason", res.Reason)
	return res, nil
}

// ParseTranscript extracts the winner and win condition from match output.
// The first line containing ") wins (" decides; "(A)" on it means the first
// mover won. A missing winner line yields eval.ErrNoWinner.
func ParseTranscript(out string) (eval.MatchResult, error) {
	var (
		res   eval.MatchResult
		found bool
	)
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !found && strings.Contains(line, winnerMarker) {
			found = true
			res.Winner = eval.Second
			if strings.Contains(line, firstMarker) {
				res.Winner = eval.First
			}
		}
		if res.Reason == "" && strings.HasPrefix(line, reasonPrefix) {
			reason := strings.TrimPrefix(line, reasonPrefix)
			if short, ok := shortReasons[reason]; ok {
				reason = short
			}
			res.Reason = reason
		}
	}
	if err := sc.Err(); err != nil {
		return eval.MatchResult{}, fmt.Errorf("read transcript: %w", err)
	}
	if !found {
		return eval.MatchResult{}, eval.ErrNoWinner
	}
	if res.Reason == "" {
		res.Reason = "Unknown"
	}
	return res, nil
}
