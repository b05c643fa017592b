package dashboard

import (
	"fmt"
	"log"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/sensor"
)

// TviewView implements ViewImpl with tview
type TviewView struct {
	logger *log.Logger
	app    *tview.Application

	logView      *tview.TextView
	sensorsPanel *tview.TextView
	metricsPanel *tview.TextView
	mainFlex     *tview.Flex
}

func NewTviewView(logger *log.Logger, app *tview.Application) *TviewView {
	if logger == nil {
		panic("TviewView: logger cannot be nil")
	}
	return &TviewView{
		logger: logger,
		app:    app,
	}
}

func (ui *TviewView) Initialize(controller *Controller) {
	// No SetChangedFunc with app.Draw(): it can hang during shutdown while log lines still arrive.
	// BaseView draws after every update.
	ui.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	ui.logView.SetBorder(true).SetTitle(" Logs ")

	instructions := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	instructions.SetText(instructionsText())

	ui.sensorsPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.sensorsPanel.SetBorder(true).SetTitle(" Sensors ")
	ui.SetSensorStates(nil)

	ui.metricsPanel = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	ui.metricsPanel.SetBorder(true).SetTitle(" Metrics ")
	ui.UpdateLatestData(nil)

	leftColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(instructions, 2, 0, false).
		AddItem(ui.sensorsPanel, 2*len(AllSlots)+3, 0, false).
		AddItem(ui.metricsPanel, 0, 1, true)

	ui.mainFlex = tview.NewFlex().
		AddItem(leftColumn, 0, 1, true).
		AddItem(ui.logView, 0, 1, false)
}

func instructionsText() string {
	parts := make([]string, 0, len(AllSlots)+1)
	for _, info := range AllSlots {
		parts = append(parts, fmt.Sprintf("[yellow]%c[white] %s", info.KeyBinding, info.DisplayName))
	}
	parts = append(parts, "[yellow]Esc[white] Quit")
	return strings.Join(parts, "  |  ")
}

func (ui *TviewView) SetupKeyboardHandlers(controller *Controller) {
	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			controller.OnEscapeKey()
			return nil
		}
		if event.Key() == tcell.KeyRune {
			if slot, ok := GetSlotByKey(event.Rune()); ok {
				controller.ToggleSlot(slot)
				return nil
			}
		}
		return event
	})
}

func (ui *TviewView) Run() error {
	// SetRoot must be called before setting focus, otherwise focus may be reset
	ui.app.SetRoot(ui.mainFlex, true)
	ui.app.SetFocus(ui.metricsPanel)
	return ui.app.Run()
}

func (ui *TviewView) Stop() {
	ui.app.Stop()
}

func (ui *TviewView) Draw() error {
	ui.app.Draw()
	return nil
}

func (ui *TviewView) GetLogViewHeight() int {
	_, _, _, height := ui.logView.GetInnerRect()
	return height
}

func (ui *TviewView) ClearLogView() {
	ui.logView.Clear()
}

func (ui *TviewView) WriteLogLine(line string) error {
	_, err := fmt.Fprint(ui.logView, tview.Escape(line))
	return err
}

func (ui *TviewView) SetSensorStates(states SensorStates) {
	ui.sensorsPanel.SetText(formatSensorStates(states))
}

func (ui *TviewView) UpdateLatestData(data MetricData) {
	ui.metricsPanel.SetText(formatMetrics(data))
}

func statusColor(status sensor.ConnectionStatus) string {
	switch status {
	case sensor.StatusConnected:
		return "green"
	case sensor.StatusConnecting:
		return "yellow"
	case sensor.StatusFailed:
		return "red"
	default:
		return "gray"
	}
}

func formatSensorStates(states SensorStates) string {
	var b strings.Builder
	b.WriteString("\n")
	for _, info := range AllSlots {
		state, ok := states[info.Slot]
		if !ok {
			state = SensorState{Status: sensor.StatusNotConnected}
		}
		fmt.Fprintf(&b, "  %-14s [%s]%s[white]", info.DisplayName+":", statusColor(state.Status), state.Status)
		if state.DeviceName != "" {
			fmt.Fprintf(&b, "  %s", tview.Escape(state.DeviceName))
		}
		if state.Source != "" {
			fmt.Fprintf(&b, " [gray](%s)[white]", state.Source)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func formatMetrics(data MetricData) string {
	if len(data) == 0 {
		return "\n\n  [gray]Waiting for data...[white]\n\n  Press [yellow]t[white] to connect a trainer."
	}

	var b strings.Builder
	b.WriteString("\n")
	if power, ok := data[MetricPower]; ok {
		fmt.Fprintf(&b, "  Power:         [yellow]%.0f[white] W\n\n", power)
	}
	if cadence, ok := data[MetricCadence]; ok {
		fmt.Fprintf(&b, "  Cadence:       [yellow]%.1f[white] rpm\n\n", cadence)
	}
	if speed, ok := data[MetricSpeed]; ok {
		fmt.Fprintf(&b, "  Speed:         [yellow]%.2f[white] km/h\n\n", speed)
	}
	if hr, ok := data[MetricHeartRate]; ok {
		fmt.Fprintf(&b, "  [red]Heart Rate:[white]    [yellow]%.0f[white] bpm\n\n", hr)
	}
	return b.String()
}
