package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/balkashynov/proctor/internal/db"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage students and invigilators",
}

var userAddCmd = &cobra.Command{
	Use:   "add [key]",
	Short: "Register a user",
	Long: `Register a user in the directory. The key is how the user starts an exam
(an e-mail or any stable id). Roll numbers like "cs 42" are normalized to
CS-42.

Example:
  proctor user add asha@uni.edu --name "Asha Rao" --roll cs-042 --branch CSE`,
	Args: cobra.ExactArgs(1),
	Run: withApp(alwaysQuiet, func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		name, _ := cmd.Flags().GetString("name")
		roll, _ := cmd.Flags().GetString("roll")
		branch, _ := cmd.Flags().GetString("branch")
		role, _ := cmd.Flags().GetString("role")

		user, err := a.users.Create(ctx, db.CreateUserRequest{
			Key:        args[0],
			Name:       name,
			RollNumber: roll,
			Branch:     branch,
			Role:       role,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added %s %s (%s)\n", user.Role, user.Name, user.Key)
		if user.RollNumber != "" {
			fmt.Printf("  Roll: %s\n", user.RollNumber)
		}
		if user.Branch != "" {
			fmt.Printf("  Branch: %s\n", user.Branch)
		}
		return nil
	}),
}

var userListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List users",
	Args:    cobra.NoArgs,
	Run: withApp(alwaysQuiet, func(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
		users, err := a.users.List(ctx)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(users)
		}
		if len(users) == 0 {
			fmt.Println("No users found. Use 'proctor user add <key> --name \"...\"' to register one.")
			return nil
		}

		fmt.Printf("%-24s %-24s %-10s %-10s %s\n", "KEY", "NAME", "ROLL", "BRANCH", "ROLE")
		fmt.Println(strings.Repeat("-", 80))
		for _, u := range users {
			fmt.Printf("%-24s %-24s %-10s %-10s %s\n", u.Key, u.Name, orDash(u.RollNumber), orDash(u.Branch), u.Role)
		}
		return nil
	}),
}

var userRemoveCmd = &cobra.Command{
	Use:     "rm [key]",
	Aliases: []string{"remove"},
	Short:   "Remove a user",
	Args:    cobra.ExactArgs(1),
	Run: withApp(alwaysQuiet, func(ctx context.Context, _ *cobra.Command, args []string, a *app) error {
		if err := a.users.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	}),
}

func init() {
	userAddCmd.Flags().StringP("name", "n", "", "Display name (required)")
	userAddCmd.Flags().StringP("roll", "r", "", "Roll number, e.g. CS-042")
	userAddCmd.Flags().StringP("branch", "b", "", "Branch or department")
	userAddCmd.Flags().String("role", "student", "Role: student or admin")
	userListCmd.Flags().Bool("json", false, "JSON output")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userRemoveCmd)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
