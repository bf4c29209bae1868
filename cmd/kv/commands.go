package kv

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]
			if err := store.Set(cmd.Context(), key, []byte(value)); err != nil {
				return err
			} else {
				fmt.Println("set successfully")
			}
			return nil
		},
	}
	setECmd = &cobra.Command{
		Use:   "setE [key] [value] [ttlSeconds]",
		Short: "Sets the value for a key with expiration time",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]
			ttl, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("ttlSeconds must be a number: %w", err)
			}
			if err := store.SetE(cmd.Context(), key, []byte(value), ttl); err != nil {
				return err
			} else {
				fmt.Println("setE successfully")
			}
			return nil
		},
	}
	setIfUnsetCmd = &cobra.Command{
		Use:   "setIfUnset [key] [value] [ttlSeconds]",
		Short: "Sets the value for a key with expiration time if the key is not already set",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]
			ttl, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("ttlSeconds must be a number: %w", err)
			}
			if set, err := store.SetIfUnset(cmd.Context(), key, []byte(value), ttl); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, set=%t\n", key, set)
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
			if value, ok, err := store.Get(cmd.Context(), key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%v, value=%s\n", key, ok, value)
			}
			return nil
		},
	}
	exprCmd = &cobra.Command{
		Use:   "expr [key] [ttlSeconds]",
		Short: "Expires the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			ttl, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("ttlSeconds must be a number: %w", err)
			}
			if found, err := store.Expire(cmd.Context(), key, ttl); err != nil {
				return err
			} else if !found {
				fmt.Println("key not found")
			} else {
				fmt.Println("expire successfully")
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if _, err := store.Delete(cmd.Context(), key); err != nil {
				return err
			} else {
				fmt.Println("delete successfully")
			}
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if found, err := store.Has(cmd.Context(), key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%t\n", key, found)
			}
			return nil
		},
	}
	incrCmd = &cobra.Command{
		Use:   "incr [key]",
		Short: "Increments the integer value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if n, err := store.Incr(cmd.Context(), key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, value=%d\n", key, n)
			}
			return nil
		},
	}
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Checks connectivity to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}
	pubCmd = &cobra.Command{
		Use:   "pub [channel] [message]",
		Short: "Publishes a message to a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := args[0]
			message := args[1]
			if n, err := store.Publish(cmd.Context(), channel, []byte(message)); err != nil {
				return err
			} else {
				fmt.Printf("delivered to %d subscribers\n", n)
			}
			return nil
		},
	}
	subCmd = &cobra.Command{
		Use:   "sub [channel...]",
		Short: "Subscribes to channels and prints messages until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := store.Subscribe(args...)
			if err != nil {
				return err
			}
			defer sub.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("subscribed to %v, waiting for messages (ctrl-c to stop)\n", args)
			for {
				select {
				case msg, ok := <-sub.C():
					if !ok {
						return nil
					}
					fmt.Printf("[%s] %s\n", msg.Channel, msg.Payload)
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
)
