package worker

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Topics used when classifying Arduino CLI output.
const (
	TopicSuccess      = "Success"
	TopicNoOutput     = "No output"
	TopicCompileError = "Error in compile or upload"
)

// Classify derives a message topic and data from the output of an Arduino
// CLI run in jsonmini format. It does not decide the status: the exit code
// does that. Output that is not valid JSON is an error.
func Classify(stdout, stderr []byte) (string, any, error) {
	switch {
	case len(stderr) > 0:
		return classifyError(stderr)
	case len(stdout) > 0:
		return classifyOutput(stdout)
	default:
		return TopicNoOutput, TopicNoOutput, nil
	}
}

func classifyError(stderr []byte) (string, any, error) {
	var decoded any
	if err := json.Unmarshal(stderr, &decoded); err != nil {
		return "", nil, fmt.Errorf("decode arduino-cli error output: %w", err)
	}

	topic := TopicCompileError
	fields, ok := decoded.(map[string]any)
	if !ok {
		return topic, decoded, nil
	}

	var summary string
	if e, ok := fields["error"]; ok {
		summary = fmt.Sprint(e)
		topic = summary
	}

	var detail strings.Builder
	if output, ok := fields["output"].(map[string]any); ok {
		for _, stream := range []string{"stdout", "stderr"} {
			if text := stringField(output, stream); text != "" {
				detail.WriteString(text)
				detail.WriteString("\n")
			}
		}
	}

	switch {
	case detail.Len() > 0:
		return topic, detail.String(), nil
	case summary != "":
		return topic, summary, nil
	default:
		return topic, decoded, nil
	}
}

func classifyOutput(stdout []byte) (string, any, error) {
	var decoded any
	if err := json.Unmarshal(stdout, &decoded); err != nil {
		return "", nil, fmt.Errorf("decode arduino-cli output: %w", err)
	}

	fields, ok := decoded.(map[string]any)
	if !ok {
		return TopicSuccess, decoded, nil
	}

	success, reported := fields["success"]
	if !reported {
		// No success flag: output present is taken as success.
		if out, ok := fields["stdout"]; ok {
			return TopicSuccess, out, nil
		}
		return TopicSuccess, decoded, nil
	}
	if success == true {
		return TopicSuccess, fields["compiler_out"], nil
	}
	return stringField(fields, "error"), fields["compiler_err"], nil
}

func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// DataString renders message data as text for logs, the store and the UI.
func DataString(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprint(data)
	}
	return string(b)
}
