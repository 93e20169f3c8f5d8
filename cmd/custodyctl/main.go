// custodyctl drives the permissionless maintenance paths of the custody
// service: escalation checks for expired pauses and enforcement of
// objective violations. Anyone can run it; it holds no privileged
// credential unless one is passed in.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/custodyclient"
	"github.com/tlabs-xyz/tbtc-v2-sub010/pkg/domain"
)

var objectiveReasons = []domain.Reason{
	domain.ReasonInsufficientReserves,
	domain.ReasonStaleAttestation,
	domain.ReasonSustainedViolation,
}

func main() {
	var (
		baseURL    string
		token      string
		custodians []string
	)

	root := &cobra.Command{
		Use:           "custodyctl",
		Short:         "watch and enforce custodian obligations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:8090", "custody service base URL")
	root.PersistentFlags().StringVar(&token, "token", "", "bearer token (optional)")
	root.PersistentFlags().StringSliceVar(&custodians, "custodian", nil, "custodian id (repeatable)")

	newClient := func() *custodyclient.Client {
		c := custodyclient.New(baseURL)
		c.Bearer = token
		return c
	}

	var interval time.Duration
	watch := &cobra.Command{
		Use:   "watch",
		Short: "poll escalation and violation checks on an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(custodians) == 0 {
				return fmt.Errorf("at least one --custodian is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, newClient(), custodians, interval)
		},
	}
	watch.Flags().DurationVar(&interval, "interval", time.Minute, "polling interval")

	var reason string
	check := &cobra.Command{
		Use:   "check",
		Short: "one-shot violation check across custodians",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(custodians) == 0 {
				return fmt.Errorf("at least one --custodian is required")
			}
			results, err := newClient().BatchCheck(cmd.Context(), custodians, domain.Reason(reason))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		},
	}
	check.Flags().StringVar(&reason, "reason", string(domain.ReasonInsufficientReserves), "objective violation reason")

	status := &cobra.Command{
		Use:   "status",
		Short: "print status and reserve for each custodian",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(custodians) == 0 {
				return fmt.Errorf("at least one --custodian is required")
			}
			c := newClient()
			for _, id := range custodians {
				st, err := c.Status(cmd.Context(), id)
				if err != nil {
					return err
				}
				balance, stale, err := c.Reserve(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\treserve=%d\tstale=%v\n", id, st, balance, stale)
			}
			return nil
		},
	}

	root.AddCommand(watch, check, status)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// runWatch sweeps every custodian once per tick. Each sweep is
// independent; a failing custodian never blocks the rest.
func runWatch(ctx context.Context, c *custodyclient.Client, custodians []string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep(ctx, c, custodians)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweep(ctx, c, custodians)
		}
	}
}

func sweep(ctx context.Context, c *custodyclient.Client, custodians []string) {
	for _, id := range custodians {
		escalated, status, err := c.CheckEscalation(ctx, id)
		if err != nil {
			log.Printf("%s: escalation-check: %v", id, err)
		} else if escalated {
			log.Printf("%s: pause deadline passed, now %s", id, status)
		}

		for _, reason := range objectiveReasons {
			enforced, verdict, err := c.EnforceViolation(ctx, id, reason)
			if err != nil {
				log.Printf("%s: enforce %s: %v", id, reason, err)
				continue
			}
			if enforced {
				log.Printf("%s: enforced %s (reserve=%d minted=%d)", id, reason, verdict.ReserveBalance, verdict.Minted)
			}
		}
	}
}
