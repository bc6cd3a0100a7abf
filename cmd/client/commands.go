package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"hivetax/internal/app"
	"hivetax/internal/config"
	"hivetax/internal/report"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var errMissingFilename = errors.New("response has no attachment filename")

var accountFlag = &cli.StringFlag{
	Name:        "account",
	Aliases:     []string{"a"},
	Usage:       "the Hive account to export",
	Required:    true,
	Destination: &account,
}

var outFlag = &cli.StringFlag{
	Name:        "out",
	Aliases:     []string{"o"},
	Value:       ".",
	Usage:       "the directory the CSV is written to",
	Destination: &outDir,
}

var buildCommand = &cli.Command{
	Name:      "build",
	Usage:     "build the report locally from the upstream APIs",
	ArgsUsage: " ",
	Flags:     []cli.Flag{accountFlag, outFlag},
	Action:    buildReport,
}

var serverURL string

var fetchCommand = &cli.Command{
	Name:      "fetch",
	Usage:     "download the report from a running server",
	ArgsUsage: " ",
	Flags: []cli.Flag{
		accountFlag,
		outFlag,
		&cli.StringFlag{
			Name:        "server",
			Value:       "http://localhost:8080",
			Usage:       "the base URL of the report server",
			Destination: &serverURL,
		},
	},
	Action: fetchReport,
}

func buildReport(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	rs, err := app.NewReportService(cfg, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()

	result, err := rs.Build(ctx, account)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, result.Report); err != nil {
		return err
	}

	path, err := writeReport(outDir, result.Filename, &buf)
	if err != nil {
		return err
	}

	log.Info().
		Str("file", path).
		Int("rows", len(result.Report)).
		Int("diagnostics", len(result.Diagnostics)).
		Msg("report written")
	return nil
}

func fetchReport(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()

	path, err := download(ctx, http.DefaultClient, serverURL, account, outDir)
	if err != nil {
		return err
	}

	log.Info().Str("file", path).Msg("report downloaded")
	return nil
}

// download fetches the report of acct from the server at base and stores it in
// dir under the filename the server suggests.
func download(ctx context.Context, client *http.Client, base, acct, dir string) (string, error) {
	endpoint, err := url.JoinPath(base, "get_csv")
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	endpoint += "?" + url.Values{"account_name": {acct}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	filename, err := attachmentFilename(resp.Header.Get("Content-Disposition"))
	if err != nil {
		return "", err
	}

	return writeReport(dir, filename, resp.Body)
}

func attachmentFilename(disposition string) (string, error) {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errMissingFilename, err)
	}
	name := filepath.Base(params["filename"])
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", errMissingFilename
	}
	return name, nil
}

func writeReport(dir, filename string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, filename)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}
