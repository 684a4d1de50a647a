package routing

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EnsureTableName binds id to name in the iproute2 rt_tables registry so
// tools like "ip route show table <name>" work by name. It reports whether
// an entry was appended. A conflicting binding in either direction is an
// error: rewriting someone else's table assignment could re-route their
// traffic.
func EnsureTableName(path string, id int, name string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		existingID, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		switch {
		case existingID == id && fields[1] == name:
			return false, nil
		case existingID == id:
			return false, fmt.Errorf("table id %d is already named %q in %s", id, fields[1], path)
		case fields[1] == name:
			return false, fmt.Errorf("table name %q is already bound to id %d in %s", name, existingID, path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, err
	}
	entry := fmt.Sprintf("%d\t%s\n", id, name)
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		entry = "\n" + entry
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	if _, err := f.WriteString(entry); err != nil {
		f.Close()
		return false, err
	}
	return true, f.Close()
}
