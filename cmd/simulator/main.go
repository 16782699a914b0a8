package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"dynamic-load-balancer/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Simulates the phase sensors and the switchable devices on a real broker.
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	interactive := flag.Bool("i", false, "interactive mode after the scenario")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Config invalide: %v", err)
	}

	fmt.Println("🧪 Simulation MQTT - délestage dynamique")
	fmt.Println("========================================")
	fmt.Printf("Fusible: %.0fA | Agressivité: %s\n\n", cfg.Balancer.FuseSize, cfg.Balancer.Aggressiveness)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID + "-simulator")
	opts.SetUsername(cfg.MQTT.Username)
	opts.SetPassword(cfg.MQTT.Password)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("❌ Impossible de se connecter à MQTT (%s)", cfg.MQTT.Broker)
		log.Printf("💡 docker run -it -p 1883:1883 eclipse-mosquitto:2.0")
		log.Printf("Erreur: %s", token.Error().Error())
		return
	}
	defer client.Disconnect(250)

	fmt.Printf("✅ Connecté au broker MQTT: %s\n\n", cfg.MQTT.Broker)

	sim := &simulator{client: client, cfg: cfg}
	sim.emulateDevices()

	trigger := cfg.Balancer.FuseSize * 0.9
	spike := cfg.Balancer.SpikeFilterTime
	scenarios := []struct {
		step     string
		amps     [3]float64
		wait     time.Duration
		expected string
	}{
		{"1. Charge normale", [3]float64{8, 10, 6}, 5 * time.Second, "Surveillance"},
		{"2. Pic bref sur L1", [3]float64{trigger + 4, 10, 6}, spike / 2, "Pic filtré, aucun délestage"},
		{"3. Retour normal", [3]float64{8, 10, 6}, 5 * time.Second, "Compteur de pic remis à zéro"},
		{"4. Surcharge durable L1", [3]float64{trigger + 4, 10, 6}, spike + 10*time.Second, "Réduction de la charge puis des appareils"},
		{"5. Marge revenue", [3]float64{5, 6, 4}, 4 * time.Minute, "Restauration progressive"},
	}

	for _, sc := range scenarios {
		fmt.Printf("📊 %s\n", sc.step)
		fmt.Printf("   L1: %.1fA | L2: %.1fA | L3: %.1fA\n", sc.amps[0], sc.amps[1], sc.amps[2])
		fmt.Printf("   Attendu: %s\n", sc.expected)
		sim.holdPhases(sc.amps, sc.wait)
		fmt.Println()
	}

	fmt.Println("✅ Scénario terminé!")
	fmt.Println("📋 Vérifiez les logs du balancer et le topic", cfg.MQTT.TopicPrefix+"/state")

	if *interactive {
		sim.interactiveMode()
	}
}

type simulator struct {
	client mqtt.Client
	cfg    *config.Config
}

// holdPhases republishes the readings every few seconds, like a meter would.
func (s *simulator) holdPhases(amps [3]float64, d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		for i, a := range amps {
			if topic := s.cfg.Sensors.PhaseTopic(i + 1); topic != "" {
				s.publish(topic, strconv.FormatFloat(a, 'f', 1, 64), false)
			}
		}
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(2 * time.Second)
	}
}

// emulateDevices answers switch commands by echoing the new state, and
// publishes every device as on.
func (s *simulator) emulateDevices() {
	for _, d := range s.cfg.Devices {
		d := d
		s.client.Subscribe(d.CommandTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			state := string(msg.Payload())
			fmt.Printf("🔌 %s -> %s\n", d.ID, state)
			s.publish(d.StateTopic, state, true)
		}).Wait()
		s.publish(d.StateTopic, payloadOr(d.PayloadOn, "ON"), true)
	}

	ch := s.cfg.Charging.MQTT
	if ch.CommandTopic != "" && ch.StateTopic != "" {
		s.client.Subscribe(ch.CommandTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
			fmt.Printf("🔋 Courant de charge -> %sA\n", msg.Payload())
			s.publish(ch.StateTopic, string(msg.Payload()), true)
		}).Wait()
		s.publish(ch.StateTopic, strconv.FormatFloat(s.cfg.Charging.MaxCurrent, 'f', 0, 64), true)
	}
}

func (s *simulator) publish(topic, value string, retained bool) {
	token := s.client.Publish(topic, 1, retained, value)
	token.Wait()
	fmt.Printf("📡 Publié: %s = %s\n", topic, value)
}

func (s *simulator) interactiveMode() {
	fmt.Println()
	fmt.Println("🎮 Mode Interactif Activé")
	fmt.Println("========================")
	fmt.Println("Commandes disponibles:")
	fmt.Println("  phase <1-3> <amps>     - Publier un courant de phase")
	fmt.Println("  all <l1> <l2> <l3>     - Publier les trois phases")
	fmt.Println("  offline <1-3>          - Capteur indisponible")
	fmt.Println("  device <id> <on|off>   - Forcer l'état d'un appareil")
	fmt.Println("  enable | disable       - Basculer le délestage")
	fmt.Println("  quit                   - Quitter")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("🎮 > ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "phase":
			if len(fields) != 3 {
				fmt.Println("❌ Usage: phase <1-3> <amps>")
				continue
			}
			n, _ := strconv.Atoi(fields[1])
			topic := s.cfg.Sensors.PhaseTopic(n)
			if topic == "" {
				fmt.Println("❌ Phase non configurée")
				continue
			}
			s.publish(topic, fields[2], false)

		case "all":
			if len(fields) != 4 {
				fmt.Println("❌ Usage: all <l1> <l2> <l3>")
				continue
			}
			for i := 1; i <= 3; i++ {
				if topic := s.cfg.Sensors.PhaseTopic(i); topic != "" {
					s.publish(topic, fields[i], false)
				}
			}

		case "offline":
			if len(fields) != 2 {
				fmt.Println("❌ Usage: offline <1-3>")
				continue
			}
			n, _ := strconv.Atoi(fields[1])
			if topic := s.cfg.Sensors.PhaseTopic(n); topic != "" {
				s.publish(topic, "unavailable", false)
			}

		case "device":
			if len(fields) != 3 {
				fmt.Println("❌ Usage: device <id> <on|off>")
				continue
			}
			s.setDevice(fields[1], fields[2] == "on")

		case "enable":
			s.publish(s.cfg.MQTT.TopicPrefix+"/switch/set", "ON", false)

		case "disable":
			s.publish(s.cfg.MQTT.TopicPrefix+"/switch/set", "OFF", false)

		case "quit", "exit":
			fmt.Println("👋 Au revoir!")
			return

		default:
			fmt.Println("❌ Commande inconnue")
		}
	}
}

func (s *simulator) setDevice(id string, on bool) {
	for _, d := range s.cfg.Devices {
		if d.ID != id {
			continue
		}
		payload := payloadOr(d.PayloadOff, "OFF")
		if on {
			payload = payloadOr(d.PayloadOn, "ON")
		}
		s.publish(d.StateTopic, payload, true)
		return
	}
	fmt.Printf("❌ Appareil inconnu: %s\n", id)
}

func payloadOr(p, def string) string {
	if p == "" {
		return def
	}
	return p
}
