package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"p2plend/storage/eventlog"
)

const exportPageSize = 1000

type eventRow struct {
	Height     int64  `parquet:"name=height, type=INT64"`
	Index      int32  `parquet:"name=index, type=INT32"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Position   string `parquet:"name=position, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// runExportEventsCommand pages the node's event journal into a Parquet file
// for offline analysis.
func runExportEventsCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export-events", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	out := fs.String("out", "", "Destination .parquet file")
	from := fs.Uint64("from", 0, "First height to export")
	if err := fs.Parse(args); err != nil || fs.NArg() != 0 || *out == "" {
		fmt.Fprintln(stderr, "Usage: export-events --out <file.parquet> [--from <height>]")
		return 1
	}
	records, err := fetchEvents(*from)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := writeEventsParquet(*out, records); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "exported %d events to %s\n", len(records), *out)
	return 0
}

// fetchEvents walks lend_getEvents from height from until the journal is
// exhausted. Pages restart at the last height seen, so records already
// collected are skipped.
func fetchEvents(from uint64) ([]eventlog.Record, error) {
	var (
		all      []eventlog.Record
		seen     bool
		lastH    uint64
		lastIdx  uint32
		nextFrom = from
	)
	for {
		raw, err := callRPC("lend_getEvents", map[string]interface{}{"fromHeight": nextFrom, "limit": exportPageSize}, false)
		if err != nil {
			return nil, err
		}
		var page []eventlog.Record
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		added := 0
		for _, rec := range page {
			if seen && (rec.Height < lastH || (rec.Height == lastH && rec.Index <= lastIdx)) {
				continue
			}
			all = append(all, rec)
			seen, lastH, lastIdx = true, rec.Height, rec.Index
			added++
		}
		if len(page) < exportPageSize {
			return all, nil
		}
		if added == 0 {
			return nil, fmt.Errorf("height %d holds more than %d events", lastH, exportPageSize)
		}
		nextFrom = lastH
	}
}

func writeEventsParquet(path string, records []eventlog.Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(file), new(eventRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		attrs, err := json.Marshal(rec.Event.Attributes)
		if err != nil {
			file.Close()
			return err
		}
		row := &eventRow{
			Height:     int64(rec.Height),
			Index:      int32(rec.Index),
			Type:       rec.Event.Type,
			Position:   rec.Event.Attr("position"),
			Attributes: string(attrs),
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			file.Close()
			return fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("finalise parquet: %w", err)
	}
	return file.Close()
}
