// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/leaninspect/cmd/leaninspect/config"
	"github.com/AleutianAI/leaninspect/pkg/ux"
)

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultFile
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	mode, err := ux.ParseMode(outputMode, nil)
	if err != nil {
		return err
	}
	ux.NewPrinter(cmd.OutOrStdout(), mode).Success("wrote " + path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string, a *app) error {
	data, err := yaml.Marshal(a.cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
