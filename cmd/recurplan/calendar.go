package main

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"recurplan/internal/calendar"
	"recurplan/internal/domain"
)

func newCalendarCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Inspect the business calendar",
	}
	cmd.AddCommand(newHolidaysCmd(opts), newAddDaysCmd(opts))
	return cmd
}

// businessCalendar returns the configured calendar, or the default one when
// there is no config file.
func (o *rootOptions) businessCalendar() (*calendar.Calendar, *time.Location, error) {
	cfg, err := o.manager().Parse()
	if errors.Is(err, fs.ErrNotExist) {
		return calendar.Default, time.Local, nil
	}
	if err != nil {
		return nil, nil, err
	}
	cal, err := cfg.Calendar.Build()
	if err != nil {
		return nil, nil, err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, nil, err
	}
	return cal, loc, nil
}

func newHolidaysCmd(opts *rootOptions) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "holidays",
		Short: "List the holidays of a year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cal, loc, err := opts.businessCalendar()
			if err != nil {
				return err
			}
			if year == 0 {
				year = time.Now().In(loc).Year()
			}
			days, err := cal.Holidays(year, loc)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(days))
			for _, d := range days {
				rows = append(rows, []string{d.Format(dateLayout), d.Weekday().String()})
			}
			renderTable(cmd.OutOrStdout(), []string{"DATE", "WEEKDAY"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "year to list (default current year)")
	return cmd
}

func newAddDaysCmd(opts *rootOptions) *cobra.Command {
	var (
		from string
		days int
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add (or subtract, when negative) working days to a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cal, loc, err := opts.businessCalendar()
			if err != nil {
				return err
			}
			start := domain.StartOfDay(time.Now().In(loc))
			if from != "" {
				d, err := domain.ParseDate(from)
				if err != nil {
					return fmt.Errorf("--from: %w", err)
				}
				start = d.In(loc)
			}
			check := calendar.CheckAdd
			if days < 0 {
				check = calendar.CheckSubtract
			}
			if err := check(start, days); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			var got time.Time
			if days >= 0 {
				got = cal.AddWorkingDays(start, days)
			} else {
				got = cal.SubtractWorkingDays(start, -days)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s\n", got.Format(dateLayout), styleSubtle.Render(got.Weekday().String()))
			if !cal.IsWorkingDay(start) {
				fmt.Fprintln(w, styleSubtle.Render(start.Format(dateLayout)+" is not a working day"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&days, "days", 0, "working days to add; negative subtracts")
	return cmd
}
