package kv

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, err := parseValue(args[1])
			if err != nil {
				return err
			}
			prev, loaded, err := rpcStore.Set(key, value)
			if err != nil {
				return err
			}
			if loaded {
				fmt.Printf("set successfully (replaced %s)\n", describe(prev))
			} else {
				fmt.Println("set successfully")
			}
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, ok, err := rpcStore.Get(key)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("key=%s, found=false\n", key)
				return nil
			}
			fmt.Printf("key=%s, found=true, value=%s\n", key, describe(value))
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			prev, ok, err := rpcStore.Delete(key)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("key=%s not found\n", key)
				return nil
			}
			fmt.Printf("deleted successfully (was %s)\n", describe(prev))
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			found, err := rpcStore.Contains(key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", key, found)
			return nil
		},
	}
	getAllCmd = &cobra.Command{
		Use:   "getall",
		Short: "Lists all key value pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := rpcStore.GetAll()
			if err != nil {
				return err
			}
			printPairs(pairs)
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan [prefix]",
		Short: "Lists all key value pairs whose key starts with prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := rpcClient.Scan(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			printPairs(pairs)
			return nil
		},
	}
	mgetCmd = &cobra.Command{
		Use:   "mget [key]...",
		Short: "Reads the values of several keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := rpcClient.MGet(commandContext(cmd), args...)
			if err != nil {
				return err
			}
			for i, v := range values {
				if !v.IsValid() {
					fmt.Printf("key=%s, found=false\n", args[i])
					continue
				}
				fmt.Printf("key=%s, found=true, value=%s\n", args[i], describe(v))
			}
			return nil
		},
	}
	msetCmd = &cobra.Command{
		Use:   "mset [key] [value] [[key] [value]]...",
		Short: "Sets several key value pairs",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, err := parsePairs(args)
			if err != nil {
				return err
			}
			prev, err := rpcClient.MSet(commandContext(cmd), pairs)
			if err != nil {
				return err
			}
			replaced := 0
			for i, v := range prev {
				if v.IsValid() {
					replaced++
					fmt.Printf("key=%s replaced %s\n", pairs[i].Key, describe(v))
				}
			}
			fmt.Printf("set %d pair(s), %d replaced\n", len(pairs), replaced)
			return nil
		},
	}
	mdelCmd = &cobra.Command{
		Use:   "mdel [key]...",
		Short: "Deletes several keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prev, err := rpcClient.MDelete(commandContext(cmd), args...)
			if err != nil {
				return err
			}
			deleted := 0
			for i, v := range prev {
				if !v.IsValid() {
					fmt.Printf("key=%s not found\n", args[i])
					continue
				}
				deleted++
				fmt.Printf("key=%s deleted (was %s)\n", args[i], describe(v))
			}
			fmt.Printf("deleted %d of %d key(s)\n", deleted, len(args))
			return nil
		},
	}
	mhasCmd = &cobra.Command{
		Use:   "mhas [key]...",
		Short: "Checks which of several keys exist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := rpcClient.MContains(commandContext(cmd), args...)
			if err != nil {
				return err
			}
			for i, ok := range found {
				fmt.Printf("key=%s, found=%t\n", args[i], ok)
			}
			return nil
		},
	}
	pubCmd = &cobra.Command{
		Use:   "pub [topic] [value]",
		Short: "Publishes a value to all subscribers of a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue(args[1])
			if err != nil {
				return err
			}
			n, err := rpcClient.Publish(commandContext(cmd), args[0], value)
			if err != nil {
				return err
			}
			fmt.Printf("delivered to %d subscriber(s)\n", n)
			return nil
		},
	}
	subCmd = &cobra.Command{
		Use:   "sub [topic]...",
		Short: "Prints the values published to one or more topics until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSubscribe,
	}
)

func init() {
	subCmd.Flags().Int("count", 0, "Exit after this many values (0 means no limit)")
}

func runSubscribe(cmd *cobra.Command, topics []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	type received struct {
		topic string
		value store.Value
	}
	values := make(chan received)

	subs := make([]*client.Subscription, 0, len(topics))
	for _, topic := range topics {
		sub, err := rpcClient.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		fmt.Printf("subscribed to %s (id %d)\n", sub.Topic, sub.ID)

		go func(sub *client.Subscription) {
			for {
				select {
				case v := <-sub.C():
					select {
					case values <- received{sub.Topic, v}:
					case <-ctx.Done():
						return
					}
				case <-sub.Done():
					return
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}

	limit, _ := cmd.Flags().GetInt("count")
loop:
	for n := 0; limit <= 0 || n < limit; n++ {
		select {
		case r := <-values:
			fmt.Printf("%s: %s\n", r.topic, describe(r.value))
		case <-rpcClient.Done():
			return fmt.Errorf("connection to %s closed", rpcClient.Endpoint())
		case <-ctx.Done():
			break loop
		}
	}

	unsubscribeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, sub := range subs {
		if err := sub.Unsubscribe(unsubscribeCtx); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseValue converts a command line argument with the kind of the --type flag
func parseValue(raw string) (store.Value, error) {
	kind, err := store.ParseKind(viper.GetString("type"))
	if err != nil {
		return store.Value{}, err
	}
	return store.ParseValue(kind, raw)
}

// parsePairs converts alternating key and value arguments
func parsePairs(args []string) ([]store.Kvpair, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("expected key value pairs, got %d arguments", len(args))
	}
	pairs := make([]store.Kvpair, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		value, err := parseValue(args[i+1])
		if err != nil {
			return nil, fmt.Errorf("value of %s: %w", args[i], err)
		}
		pairs = append(pairs, store.Kvpair{Key: args[i], Value: value})
	}
	return pairs, nil
}

func describe(v store.Value) string {
	return fmt.Sprintf("%s(%s)", v.Kind(), v)
}

func printPairs(pairs []store.Kvpair) {
	for _, p := range pairs {
		fmt.Printf("%s=%s\n", p.Key, describe(p.Value))
	}
	fmt.Printf("(%d pairs)\n", len(pairs))
}
