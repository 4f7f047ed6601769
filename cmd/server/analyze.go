package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/franckalain/fruitbeast/internal/logstore"
	"github.com/franckalain/fruitbeast/internal/models"
	"github.com/franckalain/fruitbeast/internal/orchestrator"
	"github.com/franckalain/fruitbeast/internal/session"
)

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var logIt bool
	var userID string

	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Analyze a fruit photo and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readImageFile(args[0])
			if err != nil {
				return err
			}

			db, err := ctx.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			model, err := ctx.openModel(cmd.Context())
			if err != nil {
				return err
			}
			defer model.Close()

			sess, err := session.NewManager(model, db, ctx.log()).Get(cmd.Context(), userID)
			if err != nil {
				return err
			}

			snap, err := sess.Analysis.Analyze(cmd.Context(), img)
			if err != nil {
				return err
			}
			if snap.State != orchestrator.StateSuccess {
				return errors.New(snap.Error)
			}

			out := struct {
				Analysis *models.FruitAnalysis `json:"analysis"`
				Logged   *models.FruitLogEntry `json:"logged,omitempty"`
			}{Analysis: snap.Analysis}

			if logIt {
				entry, err := logstore.New(db, ctx.log()).Append(cmd.Context(), userID, snap.Analysis)
				if err != nil {
					return err
				}
				out.Logged = entry
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&logIt, "log", false, "Add the analyzed fruit to the log")
	cmd.Flags().StringVar(&userID, "user", models.DemoUserID, "Owner of the log entry")
	return cmd
}

func readImageFile(path string) (models.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return models.Image{}, fmt.Errorf("image %s is empty", path)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return models.Image{MimeType: mimeType, Data: data}, nil
}
