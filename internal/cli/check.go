package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/checkinbot/checkinbot/internal/credentials"
	"github.com/checkinbot/checkinbot/internal/httpclient"
	"github.com/checkinbot/checkinbot/internal/models"
	"github.com/checkinbot/checkinbot/internal/store"
	"github.com/spf13/cobra"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"c", "validate"},
	Short:   "Validate configuration and credential files without network calls",
	Long: `Validate the configuration and the credential files.

This command checks:
- Configuration validity
- Credential file presence and record counts
- Proxy URL syntax
- History store accessibility

No request is sent to any remote service.

Example:
  checkinbot check --config config.yaml`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	RootCmd.AddCommand(checkCmd)
}

// CheckResult represents the result of one validation step
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

const (
	checkOK      = "OK"
	checkWarning = "WARNING"
	checkFail    = "FAIL"
)

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, configResult := checkConfig(globalFlags.Config)
	results := []CheckResult{configResult}

	if cfg != nil {
		records, credResult := checkCredentials(cfg.Files)
		results = append(results, credResult)
		if records != nil {
			results = append(results, checkProxies(records))
		}
		results = append(results, checkHistory(cfg.Store))
	}

	return outputCheckResults(cmd.OutOrStdout(), results)
}

func checkConfig(path string) (*config.Config, CheckResult) {
	result := CheckResult{Name: "Configuration", Status: checkOK}

	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg = config.Default()
			result.Status = checkWarning
			result.Message = fmt.Sprintf("%s not found, using defaults", path)
		} else {
			result.Status = checkFail
			result.Message = err.Error()
			return nil, result
		}
	} else {
		result.Message = fmt.Sprintf("%s valid (version %s)", path, cfg.Version)
	}

	result.Details = fmt.Sprintf("concurrency %d, interval %s", cfg.Runner.Concurrency, cfg.Runner.Interval)
	return cfg, result
}

func checkCredentials(files config.FilesConfig) ([]models.AccountRecord, CheckResult) {
	result := CheckResult{Name: "Credential files", Status: checkOK}

	records, err := credentials.NewStore(files).LoadAll()
	if err != nil {
		result.Status = checkFail
		result.Message = err.Error()
		return nil, result
	}

	if len(records) == 0 {
		result.Status = checkWarning
		result.Message = "no accounts configured"
		return records, result
	}

	withIdentity := 0
	for _, rec := range records {
		if rec.IdentityToken != "" {
			withIdentity++
		}
	}
	result.Message = fmt.Sprintf("%d accounts", len(records))
	result.Details = fmt.Sprintf("%d with identity token", withIdentity)
	return records, result
}

func checkProxies(records []models.AccountRecord) CheckResult {
	result := CheckResult{Name: "Proxies", Status: checkOK}

	proxied := 0
	var invalid []string
	for _, rec := range records {
		if !rec.HasProxy() {
			continue
		}
		proxied++
		if _, err := httpclient.ParseProxy(rec.Proxy); err != nil {
			invalid = append(invalid, fmt.Sprintf("account %d", rec.Number()))
		}
	}

	result.Message = fmt.Sprintf("%d via proxy, %d direct", proxied, len(records)-proxied)
	if len(invalid) > 0 {
		result.Status = checkFail
		result.Details = "invalid proxy URL: " + strings.Join(invalid, ", ")
	}
	return result
}

func checkHistory(cfg config.StoreConfig) CheckResult {
	result := CheckResult{Name: "History store", Status: checkOK}

	if !cfg.Enabled {
		result.Message = "disabled"
		return result
	}

	history, err := store.NewSQLiteStoreWithRetention(cfg.Path, 0, nil)
	if err != nil {
		result.Status = checkFail
		result.Message = err.Error()
		return result
	}
	defer history.Close()

	stats := history.Stats()
	result.Message = fmt.Sprintf("%s accessible", cfg.Path)
	result.Details = fmt.Sprintf("%d cycles, %d account results", stats.CycleCount, stats.ResultCount)
	return result
}

func outputCheckResults(w io.Writer, results []CheckResult) error {
	if globalFlags.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
	} else {
		writeCheckTable(w, results)
	}

	for _, r := range results {
		if r.Status == checkFail {
			return fmt.Errorf("check failed: %s", r.Name)
		}
	}
	return nil
}

func writeCheckTable(w io.Writer, results []CheckResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tSTATUS\tMESSAGE\tDETAILS")

	allPassed := true
	for _, r := range results {
		statusIcon := "✓"
		switch r.Status {
		case checkFail:
			statusIcon = "✗"
			allPassed = false
		case checkWarning:
			statusIcon = "!"
		}

		details := r.Details
		if details == "" {
			details = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Name, statusIcon+" "+r.Status, r.Message, details)
	}
	_ = tw.Flush()

	fmt.Fprintln(w)
	if allPassed {
		fmt.Fprintln(w, "✓ All checks passed!")
	} else {
		fmt.Fprintln(w, "✗ Some checks failed. Please review the output above.")
	}
}
