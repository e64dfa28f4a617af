// Package tui provides the terminal user interface for watching Maestro tasks.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/maestro/pkg/models"
)

// Tab constants for navigation.
const (
	TabTasks = iota
	TabEvents
)

// TaskLister is the store surface the watch view reads from.
type TaskLister interface {
	ListTasks(statuses ...models.TaskStatus) ([]*models.Task, error)
	ListEvents(taskID string) ([]*models.TaskEvent, error)
}

// refreshMsg triggers a store re-read.
type refreshMsg time.Time

// tasksLoadedMsg carries a fresh snapshot from the store.
type tasksLoadedMsg struct {
	tasks  []*models.Task
	events []*models.TaskEvent
	err    error
}

// App is the main bubbletea model for the watch view.
type App struct {
	store       TaskLister
	refreshRate time.Duration

	currentTab int
	tasks      []*models.Task
	events     []*models.TaskEvent
	loadErr    error

	taskTable table.Model
	spin      spinner.Model

	width    int
	height   int
	quitting bool

	headerStyle  lipgloss.Style
	footerStyle  lipgloss.Style
	errorStyle   lipgloss.Style
	statusStyles map[models.TaskStatus]lipgloss.Style
}

// New creates a new App backed by the given store.
func New(store TaskLister, refreshRate time.Duration) *App {
	if refreshRate <= 0 {
		refreshRate = time.Second
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))

	columns := []table.Column{
		{Title: "ID", Width: 10},
		{Title: "Kind", Width: 16},
		{Title: "Status", Width: 10},
		{Title: "Attempts", Width: 8},
		{Title: "Step", Width: 18},
		{Title: "Updated", Width: 19},
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	tableStyles := table.DefaultStyles()
	tableStyles.Header = tableStyles.Header.
		Bold(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(lipgloss.Color("240"))
	tableStyles.Selected = tableStyles.Selected.
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("15")).
		Bold(true)
	tbl.SetStyles(tableStyles)

	return &App{
		store:       store,
		refreshRate: refreshRate,
		currentTab:  TabTasks,
		taskTable:   tbl,
		spin:        s,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		footerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		statusStyles: map[models.TaskStatus]lipgloss.Style{
			models.TaskStatusQueued:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
			models.TaskStatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
			models.TaskStatusPaused:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			models.TaskStatusSucceeded: lipgloss.NewStyle().Foreground(lipgloss.Color("28")),
			models.TaskStatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			models.TaskStatusCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		},
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spin.Tick, a.load(), a.tick())
}

// tick schedules the next store refresh.
func (a *App) tick() tea.Cmd {
	return tea.Tick(a.refreshRate, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

// load reads the current task and event snapshot from the store.
func (a *App) load() tea.Cmd {
	return func() tea.Msg {
		tasks, err := a.store.ListTasks()
		if err != nil {
			return tasksLoadedMsg{err: err}
		}

		var events []*models.TaskEvent
		if len(tasks) > 0 {
			selected := a.selectedTaskID()
			if selected == "" {
				selected = tasks[0].ID
			}
			events, err = a.store.ListEvents(selected)
			if err != nil {
				return tasksLoadedMsg{tasks: tasks, err: err}
			}
			if len(events) > 50 {
				events = events[len(events)-50:]
			}
		}
		return tasksLoadedMsg{tasks: tasks, events: events}
	}
}

// selectedTaskID returns the task id of the highlighted table row.
func (a *App) selectedTaskID() string {
	row := a.taskTable.SelectedRow()
	if row == nil {
		return ""
	}
	cursor := a.taskTable.Cursor()
	if cursor < 0 || cursor >= len(a.tasks) {
		return ""
	}
	return a.tasks[cursor].ID
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "tab":
			a.currentTab = (a.currentTab + 1) % 2
		case "1":
			a.currentTab = TabTasks
		case "2":
			a.currentTab = TabEvents
		case "r":
			return a, a.load()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.taskTable.SetWidth(msg.Width - 2)

	case refreshMsg:
		return a, tea.Batch(a.load(), a.tick())

	case tasksLoadedMsg:
		a.loadErr = msg.err
		if msg.tasks != nil {
			a.tasks = msg.tasks
			a.events = msg.events
			a.setRows()
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.taskTable, cmd = a.taskTable.Update(msg)
	return a, cmd
}

// setRows rebuilds the table rows from the current task snapshot.
func (a *App) setRows() {
	now := time.Now()
	rows := make([]table.Row, 0, len(a.tasks))
	for _, t := range a.tasks {
		status := string(t.Status)
		if t.Status == models.TaskStatusRunning && t.LeaseExpired(now) {
			status = "reclaimable"
		}
		rows = append(rows, table.Row{
			shortID(t.ID),
			t.Kind,
			status,
			fmt.Sprintf("%d/%d", t.Attempts, t.MaxAttempts),
			t.CurrentStepID,
			t.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	a.taskTable.SetRows(rows)
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	var content string
	switch a.currentTab {
	case TabTasks:
		content = a.viewTasks()
	case TabEvents:
		content = a.viewEvents()
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", a.viewHeader(), content, a.viewFooter())
}

// viewHeader renders the tab bar with the refresh spinner.
func (a *App) viewHeader() string {
	tabs := []string{"Tasks", "Events"}
	var header string
	for i, tab := range tabs {
		if i == a.currentTab {
			header += fmt.Sprintf("[%s] ", tab)
		} else {
			header += fmt.Sprintf(" %s  ", tab)
		}
	}
	return a.headerStyle.Render(header) + " " + a.spin.View()
}

// viewTasks renders the task table with a per-status summary line.
func (a *App) viewTasks() string {
	if len(a.tasks) == 0 {
		return "No tasks"
	}
	return a.taskTable.View() + "\n" + a.viewSummary()
}

// viewSummary renders colored per-status counts.
func (a *App) viewSummary() string {
	counts := make(map[models.TaskStatus]int)
	for _, t := range a.tasks {
		counts[t.Status]++
	}

	order := []models.TaskStatus{
		models.TaskStatusQueued, models.TaskStatusRunning, models.TaskStatusPaused,
		models.TaskStatusSucceeded, models.TaskStatusFailed, models.TaskStatusCancelled,
	}
	var summary string
	for _, status := range order {
		n := counts[status]
		if n == 0 {
			continue
		}
		part := fmt.Sprintf("%s: %d", status, n)
		if style, ok := a.statusStyles[status]; ok {
			part = style.Render(part)
		}
		summary += "  " + part
	}
	return summary
}

// viewEvents renders the event log for the selected task.
func (a *App) viewEvents() string {
	if len(a.events) == 0 {
		return "No events"
	}

	var view string
	for _, ev := range a.events {
		line := fmt.Sprintf("  %s  %-18s %s",
			ev.CreatedAt.Local().Format("15:04:05"), ev.Type, ev.StepID)
		view += line + "\n"
	}
	return view
}

// viewFooter renders the key hints, and the last load error if any.
func (a *App) viewFooter() string {
	footer := a.footerStyle.Render("tab: switch  r: refresh  q: quit")
	if a.loadErr != nil {
		footer += "\n" + a.errorStyle.Render("load error: "+a.loadErr.Error())
	}
	return footer
}

// shortID truncates a uuid for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
