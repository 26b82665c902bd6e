package main

import (
	"fmt"
	"os"

	"pushtalk/internal/config"
)

func main() {
	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		panic(err)
	}
	fmt.Printf("config=%s\n", cfg.Paths.ConfigPath)
	fmt.Printf("broker=%s protocol=%d clean=%v reconnect=%v delay=%s\n",
		cfg.MQTT.BrokerURL, cfg.MQTT.ProtocolVersion, cfg.MQTT.CleanSession, cfg.MQTT.Reconnect, cfg.ReconnectDelay())
	for _, m := range []config.TopicPair{cfg.StartMessage(), cfg.StopMessage()} {
		fmt.Printf("topic %s payload=%q\n", m.Topic, m.Payload)
	}
	fmt.Printf("ui=http://%s/ subscribe=%v\n", cfg.UI.Bind, cfg.MQTT.Subscribe)
}
