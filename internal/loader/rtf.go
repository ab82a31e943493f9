package loader

import (
	"fmt"
	"os"
	"strings"

	"github.com/lu4p/cat"
)

// rtfText converts RTF with lu4p/cat, which reads from a named file.
func rtfText(content []byte) (string, error) {
	tmp, err := os.CreateTemp("", "ragchain-*.rtf")
	if err != nil {
		return "", fmt.Errorf("extract RTF: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("extract RTF: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("extract RTF: %w", err)
	}
	text, err := cat.File(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("extract RTF: %w", err)
	}
	return strings.TrimSpace(text), nil
}
