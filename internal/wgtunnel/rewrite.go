package wgtunnel

import (
	"fmt"
	"os"
	"strings"
)

// EnsureTableOff rewrites the descriptor at path so its [Interface] section
// carries "Table = off", which keeps the tunnel from installing its routes in
// the main table. The file is rewritten only when the directive is absent;
// a descriptor that pins any other table is rejected rather than edited,
// since overriding an explicit choice would silently change its routing.
func EnsureTableOff(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	lines := strings.Split(string(data), "\n")
	if strings.HasSuffix(string(data), "\n") && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}

	interfaceStart := -1
	section := ""
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if section == "interface" && interfaceStart == -1 {
				interfaceStart = i
			}
			continue
		}
		if section != "interface" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.ToLower(strings.TrimSpace(key)) != "table" {
			continue
		}
		value = strings.TrimSpace(value)
		if strings.EqualFold(value, "off") {
			return false, nil
		}
		return false, fmt.Errorf("%s sets Table = %s: only off is supported", path, value)
	}
	if interfaceStart == -1 {
		return false, fmt.Errorf("%s has no [Interface] section", path)
	}

	// Insert at the end of the [Interface] body, before any blank lines
	// separating it from the next section.
	insert := len(lines)
	for i := interfaceStart + 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			insert = i
			break
		}
	}
	for insert > interfaceStart+1 && strings.TrimSpace(lines[insert-1]) == "" {
		insert--
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:insert]...)
	out = append(out, "Table = off")
	out = append(out, lines[insert:]...)

	rewritten := strings.Join(out, "\n") + "\n"
	if err := os.WriteFile(path, []byte(rewritten), info.Mode().Perm()); err != nil {
		return false, err
	}
	return true, nil
}
