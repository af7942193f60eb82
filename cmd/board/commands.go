package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"taskboard/domain"
)

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the board grouped by column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.seeded(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer c.Stop()
			return renderBoard(cmd.OutOrStdout(), c.Registry.Columns())
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the board on screen and redraw it on every change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c := opts.connect(cmd)
			changed := make(chan struct{}, 1)
			c.Registry.OnChange(func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			if err := c.Start(ctx); err != nil {
				return err
			}
			defer c.Stop()

			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-changed:
					fmt.Fprint(out, "\033[H\033[2J")
					if err := renderBoard(out, c.Registry.Columns()); err != nil {
						return err
					}
				}
			}
		},
	}
}

func newCreateCmd(opts *options) *cobra.Command {
	var (
		d        domain.Draft
		status   string
		priority string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if d.Status, err = domain.ParseStatus(status); err != nil {
				return err
			}
			if d.Priority, err = domain.ParsePriority(priority); err != nil {
				return err
			}
			c, err := opts.seeded(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer c.Stop()
			t, err := c.Session.Create(cmd.Context(), d)
			if err != nil {
				return err
			}
			renderTask(cmd.OutOrStdout(), t)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&d.Title, "title", "", "task title")
	f.StringVar(&d.Description, "description", "", "task description")
	f.StringVar(&d.AssignedUser, "assignee", "", "assigned user")
	f.StringVar(&status, "status", string(domain.StatusToDo), "To Do, In Progress or Done")
	f.StringVar(&priority, "priority", string(domain.PriorityMedium), "Low, Medium or High")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("assignee")
	return cmd
}

func newEditCmd(opts *options) *cobra.Command {
	var title, description, priority string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change the title, description or priority of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.Patch
			f := cmd.Flags()
			if f.Changed("title") {
				p.Title = &title
			}
			if f.Changed("description") {
				p.Description = &description
			}
			if f.Changed("priority") {
				pr, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				p.Priority = &pr
			}
			if p.Empty() {
				return errors.New("nothing to change: pass --title, --description or --priority")
			}

			c, err := opts.seeded(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer c.Stop()
			current, err := resolveID(c.Registry, args[0])
			if err != nil {
				return err
			}
			t, err := c.Session.Update(cmd.Context(), current.ID, p)
			if err != nil {
				return err
			}
			renderTask(cmd.OutOrStdout(), t)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&title, "title", "", "new title")
	f.StringVar(&description, "description", "", "new description")
	f.StringVar(&priority, "priority", "", "Low, Medium or High")
	return cmd
}

func newMoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <status>",
		Short: "Move a task to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			c, err := opts.seeded(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer c.Stop()
			current, err := resolveID(c.Registry, args[0])
			if err != nil {
				return err
			}
			moved, err := c.Session.Move(cmd.Context(), current.ID, current.Status, to)
			if err != nil {
				return err
			}
			if !moved {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already in %s\n", shortID(current.ID), to)
				return nil
			}
			t, _ := c.Registry.Get(current.ID)
			renderTask(cmd.OutOrStdout(), t)
			return nil
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.seeded(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer c.Stop()
			current, err := resolveID(c.Registry, args[0])
			if err != nil {
				return err
			}
			if err := c.Session.Delete(cmd.Context(), current.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", current.ID)
			return nil
		},
	}
}
