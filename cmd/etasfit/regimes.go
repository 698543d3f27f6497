package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/etasfit/internal/etas"
	"github.com/banshee-data/etasfit/internal/etas/regimes"
	"github.com/banshee-data/etasfit/internal/fsutil"
)

func runRegimes(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: etasfit regimes <import|show|resolve> [options]")
	}
	action, rest := args[0], args[1:]
	switch action {
	case "import":
		return regimesImport(rest, stdout, stderr)
	case "show":
		return regimesShow(rest, stdout, stderr)
	case "resolve":
		return regimesResolve(rest, stdout, stderr)
	}
	return fmt.Errorf("unknown regimes action %q", action)
}

func regimesImport(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("regimes import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "", "Regime database (required)")
	filePath := fs.String("file", "", "Regime table JSON to import (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *filePath == "" {
		return errors.New("-db and -file are required")
	}

	f, err := regimes.ReadFile(fsutil.OSFileSystem{}, *filePath)
	if err != nil {
		return err
	}
	store, err := regimes.OpenStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Import(context.Background(), f, *filePath)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "imported %d regimes (%d regions) as run %s\n", run.Regimes, run.Regions, run.ID)
	return nil
}

func regimesShow(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("regimes show", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "", "Regime database (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return errors.New("-db is required")
	}

	store, err := regimes.OpenStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	schema, dirty, err := store.SchemaVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "schema version %d (dirty=%v)\n", schema, dirty)
	if run, ok, err := store.LastImport(ctx); err != nil {
		return err
	} else if ok {
		fmt.Fprintf(stderr, "last import %s from %s at %s\n", run.ID, run.Source, run.Imported.Format(time.RFC3339))
	}

	f, err := store.Export(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "%s\n", data)
	return err
}

func regimesResolve(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("regimes resolve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	tablePath := fs.String("regimes", "", "Regime table JSON")
	dbPath := fs.String("db", "", "Regime database")
	lat := fs.Float64("lat", 0, "Latitude in degrees")
	lon := fs.Float64("lon", 0, "Longitude in degrees")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src, closeSrc, err := openParamsSource(fsutil.OSFileSystem{}, *tablePath, *dbPath)
	if err != nil {
		return err
	}
	defer closeSrc()
	if src == nil {
		return errors.New("one of -regimes or -db is required")
	}

	loc := etas.Location{Lat: *lat, Lon: *lon}
	if !loc.Valid() {
		return fmt.Errorf("location %s out of range", loc)
	}
	p, found, err := src.ForLocation(loc)
	if err != nil {
		return err
	}
	if !found {
		def, err := src.Default()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s (default)\n", def.Regime)
		return nil
	}
	fmt.Fprintln(stdout, p.Regime)
	return nil
}
