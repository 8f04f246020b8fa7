package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"

	"github.com/andy6609/presence-chat/internal/client"
	"github.com/andy6609/presence-chat/internal/logging"
)

type settings struct {
	Addr  string `envconfig:"CHAT_SERVER_ADDR" default:"localhost:9999"`
	User  string `envconfig:"CHAT_USER"`
	Color bool   `envconfig:"CHAT_COLOR" default:"true"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chat-client:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var s settings
	if err := envconfig.Process("", &s); err != nil {
		return err
	}
	addr := flag.String("addr", s.Addr, "chat server address")
	name := flag.String("name", s.User, "user name (prompted when empty)")
	useColor := flag.Bool("color", s.Color, "colorize output")
	logLevel := flag.String("log-level", "error", "log level: "+logging.LevelNames())
	flag.Parse()

	color.Enable = *useColor
	if _, err := logging.Setup(logging.Options{Level: *logLevel, Output: os.Stderr}); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c, err := client.Dial(ctx, *addr)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	attach(c, os.Stdout)
	lines := readLines(os.Stdin)
	if err := login(c, *name, lines); err != nil {
		return err
	}

	color.Bold.Printf("logged in as %s\n", c.UserName())
	printUsers(c.OnlineUsers())
	fmt.Println("commands: /to <name> <message>, /who, /quit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var target string
	for {
		select {
		case <-sigCh:
			return logout(c)
		case <-c.Done():
			color.Red.Println("disconnected from server")
			return c.Err()
		case line, ok := <-lines:
			if !ok {
				return logout(c)
			}
			quit, err := handleInput(c, line, &target)
			if err != nil {
				color.Red.Println(err.Error())
			}
			if quit {
				return logout(c)
			}
		}
	}
}

// attach prints chat and presence records to out. It is called before login
// so records that follow the login reply are not missed.
func attach(c *client.Client, out io.Writer) {
	c.OnChat(func(sender, msg string) {
		fmt.Fprintf(out, "%s %s\n", color.Cyan.Sprintf("[%s]", sender), msg)
	})
	c.OnPresence(func(online bool, who string) {
		if online {
			fmt.Fprintln(out, color.Green.Sprintf("* %s is online", who))
		} else {
			fmt.Fprintln(out, color.FgDarkGray.Sprintf("* %s went offline", who))
		}
	})
}

// login keeps prompting until the server accepts a name.
func login(c *client.Client, name string, lines <-chan string) error {
	for {
		for name == "" {
			fmt.Print("name: ")
			line, ok := <-lines
			if !ok {
				return io.EOF
			}
			name = strings.TrimSpace(line)
		}

		type reply struct {
			ok     bool
			errMsg string
		}
		replies := make(chan reply, 1)
		if err := c.Login(name, func(ok bool, errMsg string) { replies <- reply{ok, errMsg} }); err != nil {
			return err
		}
		select {
		case r := <-replies:
			if r.ok {
				return nil
			}
			color.Red.Printf("login failed: %s\n", r.errMsg)
			name = ""
		case <-c.Done():
			return fmt.Errorf("connection closed during login: %v", c.Err())
		}
	}
}

func handleInput(c *client.Client, line string, target *string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/who":
		printUsers(c.OnlineUsers())
		return false, nil
	case strings.HasPrefix(line, "/to "):
		parts := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(line, "/to ")), " ", 2)
		*target = parts[0]
		if len(parts) == 1 {
			fmt.Printf("now talking to %s\n", *target)
			return false, nil
		}
		return false, c.SendChatMsg(*target, parts[1])
	case strings.HasPrefix(line, "/"):
		return false, fmt.Errorf("unknown command %q", line)
	}

	if *target == "" {
		return false, fmt.Errorf("no recipient, use /to <name> <message>")
	}
	return false, c.SendChatMsg(*target, line)
}

func logout(c *client.Client) error {
	// The server closes the stream once the logout is processed.
	if err := c.Logout(); err == nil {
		select {
		case <-c.Done():
		case <-time.After(time.Second):
		}
	}
	return nil
}

func printUsers(names []string) {
	if len(names) == 0 {
		fmt.Println("nobody else is online")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Online"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for i, n := range names {
		table.Append([]string{fmt.Sprint(i + 1), n})
	}
	table.Render()
}

func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}
