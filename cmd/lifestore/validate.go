package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arthur-debert/lifestore/internal/validation"
	"github.com/arthur-debert/lifestore/lifestore"
	"github.com/arthur-debert/lifestore/lifestore/migration"
	"github.com/arthur-debert/lifestore/lifestore/registry"
	"github.com/arthur-debert/lifestore/types"
)

// violation is a stored record that no longer satisfies its declaration
type violation struct {
	Collection string `json:"collection"`
	Key        any    `json:"key"`
	Problem    string `json:"problem"`
}

func (cli *CLI) addValidateCommand() {
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check schema files and stored records",
	}

	schemaCmd := &cobra.Command{
		Use:   "schema <file.yaml>...",
		Short: "Check that schema files declare valid version chains",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			for _, path := range args {
				reg := registry.New()
				if err := reg.LoadFile(path); err != nil {
					return NewStoreError("validate "+path, err,
						fmt.Sprintf("Transformers: %s", strings.Join(migration.TransformerNames(), ", ")))
				}
				for _, domain := range reg.Domains() {
					latest, _ := reg.Latest(domain)
					if err := p.success("%s: %s is valid up to version %d", path, domain, latest); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}

	recordsCmd := &cobra.Command{
		Use:   "records <domain>",
		Short: "Check stored keys and indexed values against the declarations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := cli.printer(cmd)
			if err != nil {
				return err
			}
			h, err := cli.openDomain(cmd, args[0])
			if err != nil {
				return err
			}
			found := []violation{}
			err = h.WithTransaction(cmd.Context(), h.Collections(), types.ReadOnly, func(txn *lifestore.Txn) error {
				for _, name := range h.Collections() {
					c, err := txn.Schema(name)
					if err != nil {
						return err
					}
					recs, err := txn.GetAll(name)
					if err != nil {
						return err
					}
					for _, rec := range recs {
						key := rec[c.PrimaryKey]
						if err := validation.ValidateKeyValue(c, key); err != nil {
							found = append(found, violation{Collection: name, Key: key, Problem: err.Error()})
						}
						if err := validation.ValidateIndexedValues(c, rec); err != nil {
							found = append(found, violation{Collection: name, Key: key, Problem: err.Error()})
						}
					}
				}
				return nil
			})
			if err != nil {
				return WrapError("validate records", err)
			}
			cli.logger.Info("records validated", "domain", h.Domain(), "violations", len(found))

			if done, err := p.structured(found); done {
				return err
			}
			if len(found) == 0 {
				return p.success("%s: every record matches version %d", h.Domain(), h.Version())
			}
			rows := make([][]string, len(found))
			for i, v := range found {
				rows[i] = []string{v.Collection, formatCell(v.Key), v.Problem}
			}
			return p.table([]string{"collection", "key", "problem"}, rows)
		},
	}

	validateCmd.AddCommand(schemaCmd, recordsCmd)
	cli.rootCmd.AddCommand(validateCmd)
}
