package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "healthctl",
	Short: "HealthGate CLI",
	Long:  "A CLI for the HealthGate clinical data gateway.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(mfaCmd())
	rootCmd.AddCommand(patientCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(auditCmd())
}

// --- login ---

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <email>",
		Short: "Authenticate and store the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print("Password: ")
			pw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				printError(err.Error())
				return nil
			}

			client := newClient()
			data, err := client.post("/v1/auth/login", map[string]any{
				"email":    args[0],
				"password": string(pw),
			})
			if err != nil {
				printError(err.Error())
				return nil
			}

			m, _ := data.(map[string]any)
			if m["mfa_required"] == true {
				fmt.Println("MFA required. Run:")
				fmt.Printf("  healthctl mfa otp init --ticket %v\n", m["ticket"])
				return nil
			}
			if m["challenge"] == "NEW_PASSWORD_REQUIRED" {
				fmt.Println("Password change required. POST /v1/auth/change-password with a new password.")
				return nil
			}
			storeTokens(m)
			printSuccess("Logged in as " + args[0])
			return nil
		},
	}
}

// --- mfa ---

func mfaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mfa", Short: "Complete a multi-factor challenge"}

	otpCmd := &cobra.Command{Use: "otp", Short: "Email one-time codes"}

	var ticket string

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Request a one-time code",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.post("/v1/auth/mfa/otp/init", map[string]any{"ticket": ticket})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(data)
			return nil
		},
	}
	initCmd.Flags().StringVar(&ticket, "ticket", "", "Pending login ticket")
	initCmd.MarkFlagRequired("ticket") //nolint:errcheck

	var verifyTicket string
	verifyCmd := &cobra.Command{
		Use:   "verify <code>",
		Short: "Submit a one-time code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.post("/v1/auth/mfa/otp/verify", map[string]any{
				"ticket": verifyTicket,
				"code":   args[0],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			m, _ := data.(map[string]any)
			storeTokens(m)
			printSuccess("Login complete")
			return nil
		},
	}
	verifyCmd.Flags().StringVar(&verifyTicket, "ticket", "", "Pending login ticket")
	verifyCmd.MarkFlagRequired("ticket") //nolint:errcheck

	otpCmd.AddCommand(initCmd, verifyCmd)
	cmd.AddCommand(otpCmd)
	return cmd
}

// storeTokens saves the access token from a completed login payload.
func storeTokens(m map[string]any) {
	tokens, ok := m["tokens"].(map[string]any)
	if !ok {
		return
	}
	if at, ok := tokens["access_token"].(string); ok && at != "" {
		cfg.AccessToken = at
		if err := saveConfig(); err != nil {
			printError("saving config: " + err.Error())
		}
	}
}

// --- patient ---

func patientCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "patient", Short: "Patient charts"}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Read one patient chart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get("/v1/patients/" + url.PathEscape(args[0]))
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(data)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List patient charts",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			client := newClient()
			data, err := client.get(fmt.Sprintf("/v1/patients?limit=%d&offset=%d", limit, offset))
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(data)
			return nil
		},
	}
	listCmd.Flags().Int("limit", 100, "Maximum charts to return")
	listCmd.Flags().Int("offset", 0, "Charts to skip")

	createCmd := &cobra.Command{
		Use:   "create [key=value ...]",
		Short: "Register a patient chart",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			for _, arg := range args {
				k, v, ok := strings.Cut(arg, "=")
				if !ok {
					printError("arguments must be key=value")
					return nil
				}
				body[k] = v
			}
			client := newClient()
			data, err := client.post("/v1/patients", body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(data)
			return nil
		},
	}

	cmd.AddCommand(getCmd, listCmd, createCmd)
	return cmd
}

// --- record ---

func recordCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "record", Short: "Medical records"}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Read one medical record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get("/v1/records/" + url.PathEscape(args[0]))
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(data)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list <patient-id>",
		Short: "List a patient's records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			data, err := client.get("/v1/patients/" + url.PathEscape(args[0]) + "/records")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(data)
			return nil
		},
	}

	cmd.AddCommand(getCmd, listCmd)
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if v, _ := cmd.Flags().GetString("actor"); v != "" {
				q.Set("actor", v)
			}
			if v, _ := cmd.Flags().GetString("action"); v != "" {
				q.Set("action", v)
			}
			if v, _ := cmd.Flags().GetString("patient"); v != "" {
				q.Set("patient_id", v)
			}
			if v, _ := cmd.Flags().GetString("since"); v != "" {
				q.Set("since", v)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			q.Set("limit", fmt.Sprintf("%d", limit))

			client := newClient()
			data, err := client.get("/v1/audit?" + q.Encode())
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(data)
			return nil
		},
	}
	cmd.Flags().String("actor", "", "Filter by actor subject")
	cmd.Flags().String("action", "", "Filter by action verb")
	cmd.Flags().String("patient", "", "Filter by patient ID")
	cmd.Flags().String("since", "", "Only entries at or after this RFC3339 timestamp")
	cmd.Flags().Int("limit", 100, "Maximum entries to return")
	return cmd
}
