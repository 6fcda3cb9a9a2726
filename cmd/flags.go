// cmd/flags.go
package cmd

import (
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

// ResultError is returned when a run finished without a successful
// extraction. The result itself has already been written.
type ResultError struct {
	Status  schemas.ExtractionStatus
	Message string
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("extraction finished with status %s: %s", e.Status, e.Message)
}

func checkResult(result schemas.ExtractionResult) error {
	if result.Succeeded() {
		return nil
	}
	return &ResultError{Status: result.Status, Message: result.Message}
}

var filterFlags = []struct {
	name string
	key  schemas.FilterKey
}{
	{"grupo-totem", schemas.FilterGroup},
	{"guiche", schemas.FilterCounter},
	{"tipo", schemas.FilterType},
	{"prioridade", schemas.FilterPriority},
	{"modalidade", schemas.FilterModality},
}

func addCredentialFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("username", "u", "", "PACS username (env TOTEM_USERNAME)")
	cmd.Flags().StringP("password", "p", "", "PACS password (env TOTEM_PASSWORD)")
}

func addSessionFlags(cmd *cobra.Command, headless bool, width, height int) {
	cmd.Flags().Bool("headless", headless, "run the browser without a window")
	cmd.Flags().Int("viewport-width", width, "browser viewport width")
	cmd.Flags().Int("viewport-height", height, "browser viewport height")
}

func addFilterFlags(cmd *cobra.Command) {
	for _, f := range filterFlags {
		cmd.Flags().String(f.name, schemas.DefaultFilterLabel(f.key), fmt.Sprintf("%s filter label", f.key))
	}
}

// credentialKeys binds the credential flags. The values live under "cli" so
// they never reach the persisted configuration sections.
var credentialKeys = map[string]string{
	"username": "cli.username",
	"password": "cli.password",
}

func credentials(v *viper.Viper) (schemas.Credentials, error) {
	_ = v.BindEnv("cli.username", "TOTEM_USERNAME")
	_ = v.BindEnv("cli.password", "TOTEM_PASSWORD")
	creds := schemas.Credentials{
		Username: v.GetString("cli.username"),
		Password: v.GetString("cli.password"),
	}
	if !creds.Valid() {
		return creds, fmt.Errorf("username and password are required (flags -u/-p or TOTEM_USERNAME/TOTEM_PASSWORD)")
	}
	return creds, nil
}

func filterSelection(cmd *cobra.Command) (*schemas.FilterSelection, error) {
	labels := make(map[schemas.FilterKey]string, len(filterFlags))
	for _, f := range filterFlags {
		label, err := cmd.Flags().GetString(f.name)
		if err != nil {
			return nil, err
		}
		labels[f.key] = label
	}
	sel := schemas.FilterSelection{
		Group:    labels[schemas.FilterGroup],
		Counter:  labels[schemas.FilterCounter],
		Type:     labels[schemas.FilterType],
		Priority: labels[schemas.FilterPriority],
		Modality: labels[schemas.FilterModality],
	}.WithDefaults()
	return &sel, nil
}

// writeResult prints v as indented JSON to path, or to stdout when path is
// empty.
func writeResult(cmd *cobra.Command, path string, v interface{}) error {
	if path == "" {
		return encodeIndented(cmd.OutOrStdout(), v)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := encodeIndented(f, v); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Results saved to %s\n", path)
	return nil
}

func encodeIndented(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}
