package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"dynamic-load-balancer/internal/balancer"
	"dynamic-load-balancer/internal/notify"

	"github.com/chzyer/readline"
	"github.com/sirupsen/logrus"
)

// house simulates the installation: base load entered by the user plus what
// the charger and the devices draw.
type house struct {
	base    [3]float64
	offline [3]bool
	charger float64
	devices map[string]bool
	draw    map[string]float64
}

func (h *house) PhaseState(phase balancer.Phase) (string, bool) {
	i := int(phase) - 1
	if i < 0 || i > 2 {
		return "", false
	}
	if h.offline[i] {
		return "unavailable", true
	}
	amps := h.base[i] + h.charger
	// Les appareils sont branchés sur L1.
	if i == 0 {
		for id, on := range h.devices {
			if on {
				amps += h.draw[id]
			}
		}
	}
	return strconv.FormatFloat(amps, 'f', 1, 64), true
}

func (h *house) ChargerState(context.Context) (balancer.ChargerState, error) {
	return balancer.ChargerState{Value: h.charger, Min: 6, Max: 16, Step: 1}, nil
}

func (h *house) SetCurrent(_ context.Context, amps float64) error {
	fmt.Printf("   🔋 Charge: %.1fA -> %.1fA\n", h.charger, amps)
	h.charger = amps
	return nil
}

func (h *house) IsOn(_ context.Context, id string) (bool, error) {
	return h.devices[id], nil
}

func (h *house) TurnOn(_ context.Context, id string) error {
	fmt.Printf("   🔌 %s ON\n", id)
	h.devices[id] = true
	return nil
}

func (h *house) TurnOff(_ context.Context, id string) error {
	fmt.Printf("   🔌 %s OFF\n", id)
	h.devices[id] = false
	return nil
}

func main() {
	fmt.Println("🧪 Load Balancer Interactive Tester")
	fmt.Println("===================================")
	fmt.Println()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		fmt.Printf("❌ readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetOutput(rl.Stderr())

	h := &house{
		base:    [3]float64{6, 6, 6},
		charger: 16,
		devices: map[string]bool{"water_heater": true, "heat_pump": true},
		draw:    map[string]float64{"water_heater": 10, "heat_pump": 6},
	}

	settings := balancer.Settings{
		FuseSize:       25,
		Aggressiveness: balancer.Medium,
		Phases:         []balancer.Phase{1, 2, 3},
		SpikeFilter:    balancer.DefaultSpikeFilter,
		Charger:        h,
		Devices:        []string{"water_heater", "heat_pump"},
		NotifyEnabled:  true,
	}
	coordinator, err := balancer.NewCoordinator(settings, balancer.Dependencies{
		Reader:   h,
		Switches: h,
		Local:    notify.NewLog(logger),
	}, logger)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	fmt.Println("📋 Configuration:")
	fmt.Printf("   Fusible: %.0fA, seuil: %.1fA, filtre: %s\n", settings.FuseSize, settings.TriggerCurrent(), settings.SpikeFilter)
	fmt.Println()
	showHelp()

	ctx := context.Background()
	clock := time.Now()
	step := 5 * time.Second

	tick := func() balancer.Snapshot {
		clock = clock.Add(step)
		return coordinator.Tick(ctx, clock)
	}

	for {
		snap := coordinator.Snapshot()
		rl.SetPrompt(fmt.Sprintf("[%s | %s] > ", clock.Format("15:04:05"), snap.Status()))

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			fmt.Println("👋 Au revoir!")
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "q":
			fmt.Println("👋 Au revoir!")
			return

		case "help", "h":
			showHelp()

		case "load":
			if len(fields) != 4 {
				fmt.Println("❌ Usage: load <l1> <l2> <l3>")
				continue
			}
			for i := 0; i < 3; i++ {
				v, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					fmt.Printf("❌ Valeur invalide: %s\n", fields[i+1])
					continue
				}
				h.base[i] = v
				h.offline[i] = false
			}
			showSnapshot(tick())

		case "offline":
			if len(fields) != 2 {
				fmt.Println("❌ Usage: offline <1-3>")
				continue
			}
			if n, err := strconv.Atoi(fields[1]); err == nil && n >= 1 && n <= 3 {
				h.offline[n-1] = true
			}
			showSnapshot(tick())

		case "wait", "w":
			seconds := 5
			if len(fields) == 2 {
				if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
					seconds = n
				}
			}
			var last balancer.Snapshot
			for i := 0; i < max(1, seconds/int(step.Seconds())); i++ {
				last = tick()
			}
			showSnapshot(last)

		case "enable":
			showSnapshot(coordinator.SetEnabled(ctx, true))

		case "disable":
			showSnapshot(coordinator.SetEnabled(ctx, false))

		case "restore":
			showSnapshot(coordinator.ForceRestore(ctx))

		case "status", "s":
			showSnapshot(snap)

		case "scenario":
			runScenario(h, tick)

		default:
			fmt.Println("❌ Commande inconnue (help pour l'aide)")
		}
	}
}

func runScenario(h *house, tick func() balancer.Snapshot) {
	steps := []struct {
		name  string
		base  [3]float64
		ticks int
	}{
		{"Charge normale", [3]float64{6, 6, 6}, 2},
		{"Pic bref sur L1", [3]float64{14, 6, 6}, 3},
		{"Surcharge durable sur L1", [3]float64{14, 6, 6}, 10},
		{"Retour au calme", [3]float64{2, 2, 2}, 80},
	}
	for _, s := range steps {
		fmt.Printf("\n📊 %s (%d cycles)\n", s.name, s.ticks)
		h.base = s.base
		var last balancer.Snapshot
		for i := 0; i < s.ticks; i++ {
			last = tick()
		}
		showSnapshot(last)
	}
}

func showSnapshot(snap balancer.Snapshot) {
	phases := make([]int, 0, len(snap.PhaseCurrents))
	for p := range snap.PhaseCurrents {
		phases = append(phases, int(p))
	}
	sort.Ints(phases)

	fmt.Printf("   État: %s (%s)\n", snap.Status(), snap.State)
	for _, p := range phases {
		if amps := snap.PhaseCurrents[balancer.Phase(p)]; amps != nil {
			fmt.Printf("   L%d: %5.1fA\n", p, *amps)
		} else {
			fmt.Printf("   L%d: inconnu\n", p)
		}
	}
	if snap.ChargingOriginal != nil {
		fmt.Printf("   Charge réduite (origine %.1fA)\n", *snap.ChargingOriginal)
	}
	if len(snap.ShedDevices) > 0 {
		fmt.Printf("   Appareils coupés: %s\n", strings.Join(snap.ShedDevices, ", "))
	}
}

func showHelp() {
	fmt.Println("🎮 Commandes disponibles:")
	fmt.Println("   load <l1> <l2> <l3> - Charge de base par phase (A), puis un cycle")
	fmt.Println("   offline <1-3>       - Capteur indisponible, puis un cycle")
	fmt.Println("   wait [secondes]     - Avancer le temps (cycles de 5s)")
	fmt.Println("   enable | disable    - Activer/désactiver le délestage")
	fmt.Println("   restore             - Restauration forcée")
	fmt.Println("   status              - Afficher l'état")
	fmt.Println("   scenario            - Lancer un scénario prédéfini")
	fmt.Println("   quit                - Quitter")
}
