package calibsession

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pioreactor/pio/internal/domain"
)

// PromptFunc reads one line of raw user input for a named field.
type PromptFunc func(field domain.Field) (string, error)

// TerminalPrompt builds a PromptFunc that reads from r and writes
// prompts to w, for driving RunSessionInCLI from a terminal (spec.md
// §4.G "run_session_in_cli").
func TerminalPrompt(r io.Reader, w io.Writer) PromptFunc {
	scanner := bufio.NewScanner(r)
	return func(field domain.Field) (string, error) {
		fmt.Fprintf(w, "%s: ", field.Name)
		if !scanner.Scan() {
			return "", io.EOF
		}
		return strings.TrimSpace(scanner.Text()), nil
	}
}

// RunSessionInCLI renders each step to w, prompts for its fields via
// prompt, and loops until the session leaves in_progress.
func RunSessionInCLI(engine *Engine, session *domain.CalibrationSession, w io.Writer, prompt PromptFunc) error {
	for session.Status == domain.SessionInProgress {
		step, err := engine.Render(session, domain.ModeCLI, nil)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "\n== %s ==\n%s\n", step.Title, step.Body)
		if step.Type == domain.StepResult {
			break
		}

		values := make(map[string]any, len(step.Fields))
		for _, field := range step.Fields {
			raw, err := prompt(field)
			if err != nil {
				return err
			}
			v, err := coerce(field, raw)
			if err != nil {
				return err
			}
			values[field.Name] = v
		}

		if _, err := engine.Advance(session, domain.ModeCLI, NewInputs(values), nil); err != nil {
			return err
		}
	}

	if session.Status == domain.SessionFailed {
		return fmt.Errorf("calibration session failed: %s", session.Error)
	}
	fmt.Fprintf(w, "\nSession %s finished with status %s.\n", session.SessionID, session.Status)
	return nil
}

func coerce(field domain.Field, raw string) (any, error) {
	switch field.Type {
	case "float":
		return strconv.ParseFloat(raw, 64)
	case "int":
		n, err := strconv.Atoi(raw)
		return n, err
	case "bool":
		return strconv.ParseBool(raw)
	case "float_list":
		parts := strings.Split(raw, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	default:
		return raw, nil
	}
}
