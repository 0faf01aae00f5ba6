package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/balkashynov/proctor/internal/db"
	"github.com/balkashynov/proctor/internal/parser"
)

var questionCmd = &cobra.Command{
	Use:   "question",
	Short: "Manage the question bank",
}

var questionAddCmd = &cobra.Command{
	Use:   "add [question]",
	Short: "Add a multiple-choice question",
	Long: `Add a question with smart parsing.

Smart parsing syntax:
  [option]    - An answer option
  [option*]   - The correct option (exactly one)
  +marks      - Marks for this question (default 1)

Flags override what was parsed.

Examples:
  proctor question add "Capital of France? [Paris*] [Rome] [Berlin] +2"
  proctor question add "2+2?" -o 3 -o 4 -o 5 --correct 2`,
	Args: cobra.MinimumNArgs(1),
	Run: withApp(alwaysQuiet, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		parsed := parser.ParseQuestion(strings.Join(args, " "))

		req := db.CreateQuestionRequest{
			Text:    parsed.Text,
			Options: parsed.Options,
			Correct: parsed.Correct,
			Marks:   parsed.Marks,
		}
		flagOptions, _ := cmd.Flags().GetStringArray("option")
		if len(flagOptions) > 0 {
			req.Options = flagOptions
			req.Correct = -1
		}
		if cmd.Flags().Changed("correct") {
			correct, _ := cmd.Flags().GetInt("correct")
			req.Correct = correct - 1
		}
		if cmd.Flags().Changed("marks") {
			req.Marks, _ = cmd.Flags().GetInt("marks")
		}

		// Parse errors are only fatal when the flags did not fill the gap
		if len(flagOptions) == 0 && !cmd.Flags().Changed("correct") && len(parsed.Errors) > 0 {
			return fmt.Errorf("could not parse question: %s", strings.Join(parsed.Errors, "; "))
		}

		q, err := a.questions.Create(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("Added question #%d: %s (%d mark(s))\n", q.ID, q.Text, q.Marks)
		for i, opt := range q.Options {
			marker := " "
			if i == q.Correct {
				marker = "*"
			}
			fmt.Printf("  %s %d) %s\n", marker, i+1, opt)
		}
		return nil
	}),
}

var questionListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List the question bank",
	Args:    cobra.NoArgs,
	Run: withApp(alwaysQuiet, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
		questions, err := a.questions.Questions(ctx)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(questions)
		}
		if len(questions) == 0 {
			fmt.Println("No questions yet. Use 'proctor question add \"Text? [A*] [B]\"' to add one.")
			return nil
		}
		total := 0
		for _, q := range questions {
			total += q.Marks
			fmt.Printf("#%-4d %s (%d mark(s))\n", q.ID, q.Text, q.Marks)
			for i, opt := range q.Options {
				marker := " "
				if i == q.Correct {
					marker = "*"
				}
				fmt.Printf("      %s %d) %s\n", marker, i+1, opt)
			}
		}
		fmt.Printf("\n%d question(s), %d mark(s) in total\n", len(questions), total)
		return nil
	}),
}

var questionRemoveCmd = &cobra.Command{
	Use:     "rm [id]",
	Aliases: []string{"remove"},
	Short:   "Remove a question",
	Args:    cobra.ExactArgs(1),
	Run: withApp(alwaysQuiet, func(ctx context.Context, _ *cobra.Command, args []string, a *app) error {
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid question ID '%s'", args[0])
		}
		if err := a.questions.Delete(ctx, uint(id)); err != nil {
			return err
		}
		fmt.Printf("Removed question #%d\n", id)
		return nil
	}),
}

func init() {
	questionAddCmd.Flags().StringArrayP("option", "o", nil, "Answer option (repeatable, replaces parsed options)")
	questionAddCmd.Flags().IntP("correct", "c", 0, "Number of the correct option, starting at 1")
	questionAddCmd.Flags().IntP("marks", "m", 1, "Marks for the question")
	questionListCmd.Flags().Bool("json", false, "JSON output")

	questionCmd.AddCommand(questionAddCmd)
	questionCmd.AddCommand(questionListCmd)
	questionCmd.AddCommand(questionRemoveCmd)
}
