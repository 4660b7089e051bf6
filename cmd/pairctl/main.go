package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyfold/keyfold/internal/client"
)

var (
	serverURL string
	token     string
)

func main() {
	root := &cobra.Command{
		Use:   "pairctl",
		Short: "Create, scan and cancel Keyfold pairing sessions",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "pairing server base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("KEYFOLD_TOKEN"), "owner bearer token")

	root.AddCommand(createCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(cancelCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func createCmd() *cobra.Command {
	var kind string
	var data string
	var lifetime int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pairing session, render its QR code and wait for the scan",
		Run: func(cmd *cobra.Command, args []string) {
			api := client.New(serverURL, token)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			created, err := api.CreateSession(ctx, kind, json.RawMessage(data), lifetime)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}

			art, err := client.RenderTerminal(created.Payload)
			if err != nil {
				fmt.Printf("Error rendering QR: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(art)
			fmt.Printf("Scan within %ds: %s\n\n", created.LifetimeSeconds, created.Payload)

			poller := client.NewPoller(api, created, 2*time.Second, 1500*time.Millisecond, client.Events{
				OnTick: func(remaining time.Duration) {
					fmt.Printf("\rExpires in %3ds", int(remaining.Seconds()))
				},
				OnScanned: func(resultRef string) {
					fmt.Printf("\nScanned! Pass created")
					if resultRef != "" {
						fmt.Printf(" (%s)", resultRef)
					}
					fmt.Println()
				},
				OnRefresh: func() {
					fmt.Println("Your pass list is up to date.")
				},
				OnExpired: func() {
					fmt.Println("\nCode expired, request a new one.")
				},
				OnCancelled: func() {
					fmt.Println("\nSession was cancelled.")
				},
			})

			if err := poller.Run(ctx); err != nil {
				// interrupted locally; tell the server not to wait
				cancelCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = poller.Cancel(cancelCtx)
				fmt.Println("\nCancelled.")
			}
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "note", "pass kind (login, card, note)")
	cmd.Flags().StringVar(&data, "data", "", "pass template fields as JSON")
	cmd.Flags().IntVar(&lifetime, "lifetime", 0, "session lifetime in seconds (0 = server default)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func scanCmd() *cobra.Command {
	var scannerRef string

	cmd := &cobra.Command{
		Use:   "scan [payload|session-id]",
		Short: "Complete a pairing session, as the scanning device would",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			api := client.New(serverURL, token)
			out, err := api.Complete(context.Background(), sessionIDFromArg(args[0]), scannerRef)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			if out.Error != "" {
				fmt.Printf("Scan accepted, but the pass was not saved (%s).\n", out.Error)
				return
			}
			fmt.Printf("Status: %s\n", out.Status)
			if out.ResultRef != nil {
				fmt.Printf("Pass: %s\n", *out.ResultRef)
			}
		},
	}

	cmd.Flags().StringVar(&scannerRef, "scanner", "pairctl", "identifier reported for the scanning device")
	return cmd
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [session-id]",
		Short: "Cancel a pairing session you own",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			api := client.New(serverURL, token)
			status, err := api.Cancel(context.Background(), sessionIDFromArg(args[0]))
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Status: %s\n", status)
		},
	}
}

// sessionIDFromArg accepts either a bare session ID or the full scan URL
// encoded in the QR code.
func sessionIDFromArg(arg string) string {
	if i := strings.LastIndex(arg, "/scan/"); i >= 0 {
		return arg[i+len("/scan/"):]
	}
	return arg
}
