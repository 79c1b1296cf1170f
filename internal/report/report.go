// Package report writes drained flow statistics to a CSV report file.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"wirefish/internal/flow"
)

// Header is the first row of a freshly generated report.
var Header = []string{
	"Source IP",
	"Destination IP",
	"Source Port",
	"Destination Port",
	"Protocols",
	"Packets",
	"Bytes Exchanged",
	"First Timestamp",
	"Last Timestamp",
}

// Write serialises stats as one row per flow. With firstGeneration the
// file is truncated and starts with Header; otherwise rows are appended
// to whatever the file already holds. The batch is rendered before the
// file is touched, and a failed write is cut back off so a retry of the
// same batch does not repeat rows.
func Write(path string, stats map[flow.Key]*flow.Stats, firstGeneration bool) error {
	data, err := render(stats, firstGeneration)
	if err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if firstGeneration {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open report %q: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat report %q: %w", path, err)
	}

	if _, err := f.Write(data); err != nil {
		if terr := f.Truncate(st.Size()); terr != nil {
			log.Printf("[report] WARN: could not roll back %s to %d bytes: %v", path, st.Size(), terr)
		}
		f.Close()
		return fmt.Errorf("write report %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	return nil
}

func render(stats map[flow.Key]*flow.Stats, header bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if header {
		if err := w.Write(Header); err != nil {
			return nil, fmt.Errorf("write report header: %w", err)
		}
	}
	for _, k := range sortedKeys(stats) {
		if err := w.Write(row(k, stats[k])); err != nil {
			return nil, fmt.Errorf("write report row %s: %w", k, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush report: %w", err)
	}
	return buf.Bytes(), nil
}

func row(k flow.Key, s *flow.Stats) []string {
	return []string{
		k.NetworkSource,
		k.NetworkDestination,
		k.TransportSource,
		k.TransportDestination,
		strings.Join(s.ProtocolList(), ", "),
		strconv.FormatUint(s.PacketCount, 10),
		strconv.FormatUint(s.TotalBytes, 10),
		s.FirstSeen.UTC().Format(time.RFC3339Nano),
		s.LastSeen.UTC().Format(time.RFC3339Nano),
	}
}

// sortedKeys orders rows by first sighting, then by key.
func sortedKeys(stats map[flow.Key]*flow.Stats) []flow.Key {
	keys := make([]flow.Key, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := stats[keys[i]], stats[keys[j]]
		if !a.FirstSeen.Equal(b.FirstSeen) {
			return a.FirstSeen.Before(b.FirstSeen)
		}
		return keys[i].String() < keys[j].String()
	})
	return keys
}
