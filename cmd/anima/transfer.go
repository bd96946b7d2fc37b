package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/anima-vault/anima/pkg/backup"
	"github.com/anima-vault/anima/pkg/importer"
	"github.com/anima-vault/anima/pkg/vault"
)

// Import flags
var (
	importDelimiter string
	importHeader    bool
	importMapping   string
	importPreview   bool
)

// Backup flags
var (
	backupOutput      string
	backupPassphrase  bool
	backupForce       bool
	restorePassphrase bool
)

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)

	importCmd.Flags().StringVar(&importDelimiter, "delimiter", "", `Field delimiter: ",", ";", "tab" or "|" (default: detect)`)
	importCmd.Flags().BoolVar(&importHeader, "header", false, "Treat the first row as a header")
	importCmd.Flags().StringVar(&importMapping, "map", "", "Column mapping, e.g. url=0,username=1,password=2 (none or auto allowed)")
	importCmd.Flags().BoolVar(&importPreview, "preview", false, "Show detected layout without importing")

	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Output file (default anima_backup_<user>.enc)")
	backupCmd.Flags().BoolVar(&backupPassphrase, "passphrase", false, "Use a separate backup passphrase instead of the master password")
	backupCmd.Flags().BoolVarP(&backupForce, "force", "f", false, "Overwrite existing file")
	restoreCmd.Flags().BoolVar(&restorePassphrase, "passphrase", false, "Prompt for the backup passphrase")
}

// parseDelimiter accepts a single character or the word "tab".
func parseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "":
		return 0, nil
	case "tab", `\t`:
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// parseMapping reads field=column pairs. Fields left out stay auto.
func parseMapping(s string) (*importer.Mapping, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	m := importer.AutoMapping()
	fields := map[string]*importer.Column{
		"url":      &m.URL,
		"username": &m.Username,
		"password": &m.Password,
		"note":     &m.Note,
		"name":     &m.Name,
		"category": &m.Category,
	}
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("invalid mapping %q: want field=column", pair)
		}
		col, found := fields[strings.ToLower(strings.TrimSpace(key))]
		if !found {
			return nil, fmt.Errorf("unknown mapping field %q", key)
		}
		switch v := strings.ToLower(strings.TrimSpace(value)); v {
		case "auto":
			*col = importer.ColumnAuto
		case "none", "":
			*col = importer.ColumnNone
		default:
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid column %q for %s", value, key)
			}
			*col = importer.Column(n)
		}
	}
	return &m, nil
}

func columnLabel(c importer.Column, headers []string) string {
	switch {
	case c == importer.ColumnNone:
		return "-"
	case c == importer.ColumnAuto:
		return "auto"
	case int(c) < len(headers):
		return fmt.Sprintf("%d (%s)", c, headers[c])
	default:
		return strconv.Itoa(int(c))
	}
}

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Import passwords from a CSV export",
	Long: `Import passwords from a CSV file exported by a browser or another manager.

Rows without a password, or without both a name and a url, are skipped.
Imported passwords go to the Imported category (unless the file has a
category column) and get a 90-day rotation period.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		delim, err := parseDelimiter(importDelimiter)
		if err != nil {
			return err
		}
		mapping, err := parseMapping(importMapping)
		if err != nil {
			return err
		}
		opts := importer.Options{Delimiter: delim, HasHeader: importHeader, Mapping: mapping}

		if importPreview {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			p, err := importer.Inspect(data, opts)
			if err != nil {
				return err
			}
			fmt.Printf("Delimiter: %q  Header: %v\n", p.Delimiter, p.HasHeader)
			if p.HasHeader {
				fmt.Printf("Columns: %s\n", strings.Join(p.Headers, ", "))
			}
			s := p.Suggested
			fmt.Printf("Mapping: url=%s username=%s password=%s note=%s name=%s category=%s\n",
				columnLabel(s.URL, p.Headers), columnLabel(s.Username, p.Headers),
				columnLabel(s.Password, p.Headers), columnLabel(s.Note, p.Headers),
				columnLabel(s.Name, p.Headers), columnLabel(s.Category, p.Headers))
			fmt.Printf("First %d rows parsed\n", len(p.Rows))
			return nil
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()

		return withSession(cmd.Context(), func(s *vault.Session) error {
			result, err := s.ImportCSV(cmd.Context(), f, opts)
			if result != nil && len(result.ProblemRows) > 0 {
				printWarning("Skipped %d rows (rows %s)", result.SkippedCount, joinInts(result.ProblemRows))
			}
			if err != nil {
				return err
			}
			printSuccess("Imported %d passwords", result.ImportedCount)
			return nil
		})
	},
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write an encrypted backup of your vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(s *vault.Session) error {
			path := backupOutput
			if path == "" {
				path = backup.FileName(s.Username())
			}
			if !backupForce {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("output file already exists: %s (use --force to overwrite)", path)
				}
			}

			var passphrase string
			if backupPassphrase {
				pw, confirmPw, err := readNewPassword("backup passphrase")
				if err != nil {
					return err
				}
				if pw != confirmPw {
					return fmt.Errorf("passphrases do not match")
				}
				if pw == "" {
					return backup.ErrEmptyPassword
				}
				passphrase = pw
			}

			sp := newSpinner("Encrypting backup...")
			sp.Start()
			blob, _, err := s.Backup(cmd.Context(), passphrase)
			sp.Stop()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, blob, 0600); err != nil {
				return fmt.Errorf("failed to write backup: %w", err)
			}
			abs, _ := filepath.Abs(path)
			printSuccess("Backup written to %s (%s)", abs, humanize.Bytes(uint64(len(blob))))
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Replace your vault's passwords with those in a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blob, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read backup: %w", err)
		}
		h, err := backup.Inspect(blob)
		if err != nil {
			return err
		}
		fmt.Printf("Backup of %s from %s with %d passwords\n",
			h.Username, humanize.Time(h.CreatedAt), h.RecordCount)

		return withSession(cmd.Context(), func(s *vault.Session) error {
			var passphrase string
			if restorePassphrase {
				if passphrase, err = readSecret("Backup passphrase: "); err != nil {
					return err
				}
			}
			sp := newSpinner("Restoring...")
			sp.Start()
			n, err := s.Restore(cmd.Context(), blob, passphrase)
			sp.Stop()
			if err != nil {
				return err
			}
			printSuccess("Restored %d passwords", n)
			return nil
		})
	},
}
