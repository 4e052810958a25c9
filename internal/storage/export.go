package storage

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"maxpop/internal/runner"
)

var csvHeader = []string{
	"timestamp", "version", "queue_count", "payload_size", "elapsed_ms",
	"pop_p50_ms", "pop_p99_ms", "pop_max_ms", "push_errors", "message",
}

// ExportCSV writes one row per sample.
func ExportCSV(w io.Writer, samples []runner.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, s := range samples {
		record := []string{
			strconv.FormatInt(s.Timestamp.UnixMilli(), 10),
			strconv.FormatUint(s.Version, 10),
			strconv.Itoa(s.QueueCount),
			strconv.Itoa(s.PayloadSize),
			strconv.FormatInt(s.ElapsedMillis, 10),
			formatMs(s.PopLatency.P50Ms),
			formatMs(s.PopLatency.P99Ms),
			formatMs(s.PopLatency.MaxMs),
			strconv.FormatUint(s.PushErrors, 10),
			s.Message(),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func ExportJSON(w io.Writer, samples []runner.Sample) error {
	if samples == nil {
		samples = []runner.Sample{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(samples)
}

// ExportFile picks the format from the extension: .json, anything else is CSV.
func ExportFile(path string, samples []runner.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = ExportJSON(f, samples)
	} else {
		err = ExportCSV(f, samples)
	}
	if err != nil {
		return err
	}
	return f.Close()
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
