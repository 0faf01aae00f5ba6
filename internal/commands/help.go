package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var helpCmd = &cobra.Command{
	Use:   "help",
	Short: "Show comprehensive help for proctor",
	Long:  `Display detailed help for all proctor commands and flags.`,
	Run: func(cmd *cobra.Command, args []string) {
		showCustomHelp()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("proctor %s (commit %s, built %s)\n", version, commit, date)
	},
}

func showCustomHelp() {
	fmt.Print(`
██████╗ ██████╗  ██████╗  ██████╗████████╗ ██████╗ ██████╗
██╔══██╗██╔══██╗██╔═══██╗██╔════╝╚══██╔══╝██╔═══██╗██╔══██╗
██████╔╝██████╔╝██║   ██║██║        ██║   ██║   ██║██████╔╝
██╔═══╝ ██╔══██╗██║   ██║██║        ██║   ██║   ██║██╔══██╗
██║     ██║  ██║╚██████╔╝╚██████╗   ██║   ╚██████╔╝██║  ██║
╚═╝     ╚═╝  ╚═╝ ╚═════╝  ╚═════╝   ╚═╝    ╚═════╝ ╚═╝  ╚═╝

proctor - Proctored exams in the terminal

STUDENT:

  exam <key>              Start or resume the exam
    --no-ui               Plain prompts instead of the exam screen

    Exam screen:
      ↑/↓           Choose an option
      ←/→           Previous / next question
      enter/space   Choose the highlighted option
      s             Submit (asks to confirm)
      ctrl+z        Suspend (counts as a violation)
      q             Leave, the session stays open

INVIGILATOR:

  monitor                 Live view of active sessions
    --once                Print the current list and exit
    --json                JSON output (implies --once)
    --no-ui               Reprint the list on every change

    Quick actions:
      ↑/↓           Navigate sessions
      w             Warn the selected student
      f             Force-end the selected exam
      r             Refresh now
      q             Quit

  warn <key> [note]       Add a warning (counts as a violation)
  end <key>               Force-end an exam
    --reason              Reason recorded in the log

  sessions                List every session record
    --json                JSON output

  sweep                   Delete ended and stale sessions
    --daemon              Keep sweeping on the configured schedule
    --grace-only          Only ended sessions past the grace period
    --age-only            Only sessions older than the TTL

ADMIN:

  user add <key>          Register a user
    -n, --name            Display name
    -r, --roll            Roll number (cs 42 becomes CS-42)
    -b, --branch          Branch or department
    --role                student|admin
  user ls                 List users
  user rm <key>           Remove a user

  question add <text>     Add a question with smart parsing
    -o, --option          Answer option (repeatable)
    -c, --correct         Correct option number
    -m, --marks           Marks

    Smart syntax:
      [option]      Answer option
      [option*]     Correct answer
      +2            Marks

    Example:
      proctor question add "Capital of France? [Paris*] [Rome] +2"

  question ls             List the question bank
  question rm <id>        Remove a question

  results [key]           Show submitted results
    --json                JSON output

  version                 Print version information
  help                    Show this help

Global flags:
  --log-level             debug|info|warn|error

Settings live in ~/.proctor/config.yaml (PROCTOR_HOME moves the whole
directory). PROCTOR_* environment variables override the file.

`)
}
