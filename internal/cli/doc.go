// Package cli is the gophbackup command line: export, restore and history
// subcommands over a BackupService wired from config.
//
// Every subcommand parses its own flags with internal/config (cobra flag
// parsing is disabled), so the same -c/-config file works for all of them.
package cli
