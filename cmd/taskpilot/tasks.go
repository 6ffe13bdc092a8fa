package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/taskpilot/reconciler"
	"github.com/GoCodeAlone/taskpilot/service"
	"github.com/GoCodeAlone/taskpilot/task"
)

func (a *app) tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"task"},
		Short:   "Manage tasks",
	}
	cmd.AddCommand(
		a.tasksListCmd(),
		a.tasksAddCmd(),
		a.tasksShowCmd(),
		a.tasksEditCmd(),
		a.tasksDoneCmd("done", true),
		a.tasksDoneCmd("undone", false),
		a.tasksRmCmd(),
	)
	return cmd
}

func (a *app) tasksListCmd() *cobra.Command {
	var (
		state    string
		priority string
		query    string
		limit    int
		view     string
		group    bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			env := reconciler.Env{Now: time.Now(), Location: a.loc}

			if view != "" {
				return a.listView(cmd, view, env, group)
			}

			in := service.ListInput{Q: query, Priority: priority}
			switch state {
			case "open":
				f := false
				in.Done = &f
			case "done":
				t := true
				in.Done = &t
			case "", "all":
			default:
				return fmt.Errorf("--state must be open, done or all")
			}
			if cmd.Flags().Changed("limit") {
				in.Limit = &limit
			}
			tasks, err := a.client.ListTasks(cmd.Context(), in)
			if err != nil {
				return err
			}
			if group {
				printSections(out, reconciler.Group(tasks, env), a.loc)
				return nil
			}
			printTasks(out, tasks, a.loc)
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "all", "open, done or all")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "only tasks with this priority")
	cmd.Flags().StringVarP(&query, "query", "q", "", "title or description contains")
	cmd.Flags().IntVarP(&limit, "limit", "n", task.DefaultLimit, "maximum results")
	cmd.Flags().StringVar(&view, "view", "", "project through a view: all, today, tomorrow or upcoming")
	cmd.Flags().BoolVarP(&group, "group", "g", false, "group by due date")
	return cmd
}

// listView loads every task through a reconciler and prints one view.
func (a *app) listView(cmd *cobra.Command, name string, env reconciler.Env, group bool) error {
	known := false
	for _, v := range reconciler.DefaultViews() {
		known = known || v.Name == name
	}
	if !known {
		return fmt.Errorf("unknown view %q", name)
	}

	rec := reconciler.New(a.client, reconciler.Options{
		Now:      func() time.Time { return env.Now },
		Location: a.loc,
	})
	rec.Refresh(cmd.Context())
	rec.Wait()
	st := rec.State()
	if st.Err != nil {
		return st.Err
	}

	entries := st.List(name)
	tasks := make([]service.TaskView, 0, len(entries))
	for _, e := range entries {
		tasks = append(tasks, e.Task)
	}
	out := cmd.OutOrStdout()
	switch {
	case name == reconciler.ViewUpcoming:
		printSections(out, reconciler.Upcoming(tasks, env), a.loc)
	case group:
		printSections(out, reconciler.Group(tasks, env), a.loc)
	default:
		printTasks(out, tasks, a.loc)
	}
	return nil
}

func (a *app) tasksAddCmd() *cobra.Command {
	var desc, due, priority string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := service.CreateInput{Title: strings.Join(args, " "), Priority: priority}
			if cmd.Flags().Changed("desc") {
				in.Description = &desc
			}
			if due != "" {
				t, err := parseDue(due, time.Now(), a.loc)
				if err != nil {
					return err
				}
				in.DueDate = &t
			}
			v, err := a.client.CreateTask(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s: %s\n", v.ID, v.Title)
			return nil
		},
	}
	cmd.Flags().StringVarP(&desc, "desc", "d", "", "description")
	cmd.Flags().StringVar(&due, "due", "", "due date")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "urgent, high, medium, low or none")
	return cmd
}

func (a *app) tasksShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.client.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), *v, a.loc)
			return nil
		},
	}
}

func (a *app) tasksEditCmd() *cobra.Command {
	var (
		title, desc, due, priority string
		clearDesc, clearDue        bool
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of a task; unset flags are left alone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var in service.UpdateInput
			if flags.Changed("title") {
				in.Title = task.Set(title)
			}
			switch {
			case clearDesc:
				in.Description = task.Null[string]()
			case flags.Changed("desc"):
				in.Description = task.Set(desc)
			}
			switch {
			case clearDue:
				in.DueDate = task.Null[time.Time]()
			case flags.Changed("due"):
				t, err := parseDue(due, time.Now(), a.loc)
				if err != nil {
					return err
				}
				in.DueDate = task.Set(t)
			}
			if flags.Changed("priority") {
				in.Priority = task.Set(priority)
			}

			v, err := a.client.UpdateTask(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), *v, a.loc)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&desc, "desc", "d", "", "new description")
	cmd.Flags().StringVar(&due, "due", "", "new due date")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "new priority")
	cmd.Flags().BoolVar(&clearDesc, "clear-desc", false, "remove the description")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "remove the due date")
	cmd.MarkFlagsMutuallyExclusive("desc", "clear-desc")
	cmd.MarkFlagsMutuallyExclusive("due", "clear-due")
	return cmd
}

func (a *app) tasksDoneCmd(use string, done bool) *cobra.Command {
	short := "Mark a task done"
	if !done {
		short = "Mark a task not done"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.client.ToggleDone(cmd.Context(), args[0], done)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", checkbox(v.Done), v.Title)
			return nil
		},
	}
}

func (a *app) tasksRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Task deleted successfully")
			return nil
		},
	}
}
