package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/MarketPulse/internal/pipeline"
	"github.com/TobiSchelling/MarketPulse/internal/sentiment"
	"github.com/TobiSchelling/MarketPulse/internal/server"
)

var sentimentCmd = &cobra.Command{
	Use:   "sentiment",
	Short: "Inspect and record sentiment per subject",
}

var sentimentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subjects by score",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		scores, err := db.GetSubjectScores()
		if err != nil {
			return err
		}
		if len(scores) == 0 {
			fmt.Println("No predictions recorded. Run 'marketpulse run' or add one with: marketpulse sentiment add")
			return nil
		}

		fmt.Printf("%-12s %7s %6s  %s\n", "SUBJECT", "SCORE", "PREDS", "UPDATED")
		for _, s := range scores {
			fmt.Printf("%-12s %7.1f %6d  %s\n", s.Subject, s.Score, s.PredictionCount, s.LastUpdated)
		}
		return nil
	},
}

var sentimentShowCmd = &cobra.Command{
	Use:   "show SUBJECT",
	Short: "Show a subject's current score and prediction history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		score, err := pipeline.NewTracker(cfg, db).Current(context.Background(), args[0])
		if err != nil {
			return err
		}
		printScore(args[0], score)
		return nil
	},
}

var (
	addPositive    bool
	addNegative    bool
	addConfidence  float64
	addExplanation string
	addSource      string
)

var sentimentAddCmd = &cobra.Command{
	Use:   "add SUBJECT (--positive | --negative)",
	Short: "Record a prediction for a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if addPositive == addNegative {
			return fmt.Errorf("exactly one of --positive or --negative is required")
		}

		p := sentiment.SourcePrediction{Source: addSource, IsPositive: addPositive}
		if cmd.Flags().Changed("confidence") {
			if addConfidence < 0 || addConfidence > 1 {
				return fmt.Errorf("--confidence must be within [0,1], got %v", addConfidence)
			}
			c := addConfidence
			p.Confidence = &c
		}
		if addExplanation != "" {
			e := addExplanation
			p.Explanation = &e
		}
		now := time.Now().UTC()
		p.Timestamp = &now

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		score, err := pipeline.NewTracker(cfg, db).Append(context.Background(), args[0], p)
		if err != nil {
			return err
		}
		printScore(args[0], score)
		return nil
	},
}

func init() {
	sentimentAddCmd.Flags().BoolVar(&addPositive, "positive", false, "Predict a positive move")
	sentimentAddCmd.Flags().BoolVar(&addNegative, "negative", false, "Predict a negative move")
	sentimentAddCmd.Flags().Float64Var(&addConfidence, "confidence", 0, "Confidence within [0,1]")
	sentimentAddCmd.Flags().StringVar(&addExplanation, "explanation", "", "Why you expect the move")
	sentimentAddCmd.Flags().StringVar(&addSource, "source", server.UserSource, "Source name to record")

	sentimentCmd.AddCommand(sentimentListCmd)
	sentimentCmd.AddCommand(sentimentShowCmd)
	sentimentCmd.AddCommand(sentimentAddCmd)
}

func printScore(subject string, s sentiment.Score) {
	fmt.Printf("%s: %.1f (%d predictions)\n", subject, s.Score, len(s.Predictions))
	for _, p := range s.Predictions {
		dir := "-"
		if p.IsPositive {
			dir = "+"
		}
		conf := "default"
		if p.Confidence != nil {
			conf = fmt.Sprintf("%.2f", *p.Confidence)
		}
		when := "undated"
		if p.Timestamp != nil {
			when = p.Timestamp.Format(time.RFC3339)
		}
		fmt.Printf("  %s %-10s conf=%-7s %s", dir, p.Source, conf, when)
		if p.Explanation != nil {
			fmt.Printf("  %s", *p.Explanation)
		}
		fmt.Println()
	}
}
