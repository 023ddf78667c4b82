// Command dedupe deduplicates a CRM contact export. It reads a CSV from a
// local file or an S3-compatible bucket, merges duplicate contacts by
// normalized email or phone, and writes the cleaned export back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"matterops/api/internal/config"
	"matterops/api/internal/contacts"
)

func main() {
	input := flag.String("in", "", "input CSV: a local path, or s3://object-name to read from the configured bucket")
	output := flag.String("out", "", "output CSV: a local path, or s3://object-name (defaults to <in>.deduped)")
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *output == "" {
		*output = *input + ".deduped"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rows, err := read(ctx, *input)
	if err != nil {
		log.Fatalf("read %s: %v", *input, err)
	}

	report := contacts.Dedupe(rows)

	if err := write(ctx, *output, report.Survivors); err != nil {
		log.Fatalf("write %s: %v", *output, err)
	}

	fmt.Printf("%d contacts in, %d survivors, %d duplicates merged\n",
		report.Total, len(report.Survivors), len(report.Duplicates))
	for _, dupe := range report.Duplicates {
		fmt.Printf("  merged %s (%s %s)\n", dupe.ID, dupe.FirstName, dupe.LastName)
	}
}

func read(ctx context.Context, location string) ([]contacts.Contact, error) {
	if object, remote := strings.CutPrefix(location, "s3://"); remote {
		storage, err := openStorage()
		if err != nil {
			return nil, err
		}
		return storage.Fetch(ctx, object)
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return contacts.ReadCSV(f)
}

func write(ctx context.Context, location string, rows []contacts.Contact) error {
	if object, remote := strings.CutPrefix(location, "s3://"); remote {
		storage, err := openStorage()
		if err != nil {
			return err
		}
		return storage.Put(ctx, object, rows)
	}

	f, err := os.Create(location)
	if err != nil {
		return err
	}
	if err := contacts.WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func openStorage() (*contacts.Storage, error) {
	cfg := config.Load()
	if cfg.StorageEndpoint == "" {
		return nil, fmt.Errorf("STORAGE_ENDPOINT is not configured")
	}
	return contacts.NewStorage(cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucket, cfg.StorageUseSSL)
}
