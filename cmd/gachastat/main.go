// Command gachastat prints pity statistics for a stored pull history without
// contacting the vendor API.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gachasync/gacha"
	"gachasync/logger"
	"gachasync/models"
	"gachasync/writer"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.GetLogger().WithComponent("gachastat").WithError(err).Error("gachastat failed")
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("gachastat", flag.ContinueOnError)
	historyPath := fs.String("history", "", "Path to a gachaData/<user>.json history file")
	poolsPath := fs.String("pools", "", "Path to poolInfo.json (optional)")
	parquetDir := fs.String("parquet", "", "Directory to write <user>-<kind>.parquet files to (optional)")
	compression := fs.String("compression", "snappy", "Parquet compression: snappy, gzip or none")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *historyPath == "" {
		return errors.New("-history is required")
	}

	var doc models.UserRecords
	if err := readJSON(*historyPath, &doc); err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	var pools []models.PoolInfoEntry
	if *poolsPath != "" {
		if err := readJSON(*poolsPath, &pools); err != nil {
			return fmt.Errorf("read pool info: %w", err)
		}
	}

	char := doc.History(models.KindChar)
	weapon := doc.History(models.KindWeapon)
	// Stored files are newest first already; sort anyway for hand-edited input.
	for _, h := range []models.PoolHistory{char, weapon} {
		for key, list := range h {
			h[key] = gacha.SortNewestFirst(list)
		}
	}

	report := gacha.BuildReport(char, weapon, pools)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if *parquetDir == "" {
		return nil
	}
	userKey := strings.TrimSuffix(filepath.Base(*historyPath), filepath.Ext(*historyPath))
	for _, kind := range []models.RecordKind{models.KindChar, models.KindWeapon} {
		history := doc.History(kind)
		if history.Count() == 0 {
			continue
		}
		if err := writeParquet(*parquetDir, userKey, kind, history, *compression); err != nil {
			return err
		}
	}
	return nil
}

func writeParquet(dir, userKey string, kind models.RecordKind, history models.PoolHistory, compression string) error {
	keys := make([]string, 0, len(history))
	for k := range history {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	data, err := writer.EncodeParquet(userKey, kind, writer.RowsFromHistory(history, keys), compression)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parquet dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.parquet", userKey, kind))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.GetLogger().WithComponent("gachastat").WithFields(logger.Fields{
		"path":    path,
		"records": history.Count(),
		"bytes":   len(data),
	}).Info("parquet written")
	return nil
}

func readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
