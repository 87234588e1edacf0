package app

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/fleetprov/pkg/fleetprov"
)

func newTopicsCommand() *cobra.Command {
	var templateName string

	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Print every provisioning topic for a template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := uitable.New()
			table.MaxColWidth = 100
			table.AddRow("TOPIC", "OPERATION", "FORMAT", "API", "NAME")

			for _, t := range fleetprov.AllTopics {
				name, err := t.Name(templateName)
				if err != nil {
					return fmt.Errorf("%s: %w", t, err)
				}
				table.AddRow(t, t.Operation(), t.Format(), t.API(), name)
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), table)
			return err
		},
	}

	cmd.Flags().StringVarP(&templateName, "template-name", "t", "", "Provisioning template name used in RegisterThing topics.")
	_ = cmd.MarkFlagRequired("template-name")
	return cmd
}

func newMatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "match TOPIC...",
		Short: "Classify MQTT topics as provisioning topics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table := uitable.New()
			table.AddRow("INPUT", "TOPIC", "TEMPLATE")

			var unmatched int
			for _, arg := range args {
				m, err := fleetprov.ParseTopic(arg)
				if err != nil {
					unmatched++
					table.AddRow(arg, "-", "-")
					continue
				}
				table.AddRow(arg, m.Topic, m.TemplateName)
			}

			if _, err := fmt.Fprintln(cmd.OutOrStdout(), table); err != nil {
				return err
			}
			if unmatched > 0 {
				return fmt.Errorf("%d of %d topics did not match", unmatched, len(args))
			}
			return nil
		},
	}
}
