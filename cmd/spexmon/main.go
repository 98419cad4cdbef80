package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"strings"

	"github.com/robotalks/retrospex/pkg/l1/comm/mqtt"
	env "github.com/robotalks/retrospex/pkg/l1/env/connector"
	"github.com/robotalks/retrospex/pkg/l1/msgs"
)

var (
	listOnly   bool
	outputJSON bool
)

func init() {
	env.SetupFlags()
	flag.BoolVar(&listOnly, "list", listOnly, "List stations and exit.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print events in JSON.")
}

func list(conf *env.Config) {
	stations, err := conf.MustNewConnector().Discover(context.Background())
	if err != nil {
		log.Fatalln(err)
	}
	for _, info := range stations {
		out, _ := json.Marshal(info.Meta)
		log.Printf("%s: %s", info.Ref.Name(), string(out))
	}
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	conf := env.NewConfig()
	if listOnly {
		list(conf)
		return
	}

	q, err := conf.NewQueue()
	if err != nil {
		log.Fatalln(err)
	}
	token := q.Connect()
	if token.Wait(); token.Error() != nil {
		log.Fatalln(token.Error())
	}
	defer q.Close()

	q.Sub("#", mqtt.Handler(func(topic string, payload []byte) {
		if strings.HasSuffix(topic, "/"+mqtt.KindMeta) {
			log.Printf("%s: %s", topic, string(payload))
			return
		}
		e, err := msgs.Decode(payload)
		if err != nil {
			log.Printf("%s: bad message: %v", topic, err)
			return
		}
		if !outputJSON {
			log.Printf("%s: %s", topic, e.String())
			return
		}
		out, err := e.JSON()
		if err != nil {
			log.Printf("%s: %v", topic, err)
			return
		}
		log.Printf("%s: %s", topic, out)
	}))
	<-(chan struct{})(nil)
}
