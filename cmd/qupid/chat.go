package main

import (
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/qupid/internal/conversation"
)

type personaFlags struct {
	id          string
	name        string
	instruction string
}

func (f *personaFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.id, "persona", "p", "ava", "Persona id to chat with")
	cmd.Flags().StringVar(&f.name, "name", "", "Display name for the persona (defaults to the id)")
	cmd.Flags().StringVarP(&f.instruction, "instruction", "i", "", "System instruction that shapes the persona")
}

func (f *personaFlags) persona() conversation.Persona {
	name := f.name
	if name == "" {
		name = f.id
	}
	return conversation.Persona{ID: f.id, Name: name, SystemInstruction: f.instruction}
}

func newChatCmd(o *cliOptions) *cobra.Command {
	var pf personaFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat freely with a persona",
		Long: `Opens a free-form conversation with a persona.

Example:
  qupid chat --persona ava --instruction "You are Ava, a climber who loves puns."`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, o, conversation.Options{Partner: pf.persona(), Instruction: pf.instruction})
		},
	}
	pf.bind(cmd)
	return cmd
}

func newTutorialCmd(o *cliOptions) *cobra.Command {
	var pf personaFlags
	cmd := &cobra.Command{
		Use:   "tutorial",
		Short: "Walk through the guided first-conversation tutorial",
		Long: `Runs the scripted tutorial: each step checks your message and announces
the next one. Finishing the last step ends the conversation and shows your
analysis.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, o, conversation.Options{
				Partner:     pf.persona(),
				Instruction: pf.instruction,
				Tutorial:    true,
			})
		},
	}
	pf.bind(cmd)
	return cmd
}

func newCoachCmd(o *cliOptions) *cobra.Command {
	var (
		id, name, specialty string
	)
	cmd := &cobra.Command{
		Use:   "coach",
		Short: "Talk through your conversations with a dating coach",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = id
			}
			return runSession(cmd, o, conversation.Options{
				Partner: conversation.Coach{ID: id, Name: name, Specialty: specialty},
			})
		},
	}
	cmd.Flags().StringVarP(&id, "coach", "c", "mia", "Coach id")
	cmd.Flags().StringVar(&name, "name", "", "Display name for the coach (defaults to the id)")
	cmd.Flags().StringVar(&specialty, "specialty", "", "What the coach focuses on")
	return cmd
}
