package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	polyscoresdk "polyscore/sdk/go"
)

// replayScript drives one session against a running server.
//
//	image: {w: 800, h: 600}
//	container: {w: 400, h: 300}
//	steps:
//	  - click: [10, 20]
//	  - wait_ms: 500
//	  - key: Enter
type replayScript struct {
	Image          replaySize   `yaml:"image"`
	Container      replaySize   `yaml:"container"`
	GroundTruthURL string       `yaml:"ground_truth_url"`
	Steps          []replayStep `yaml:"steps"`
}

type replaySize struct {
	W float64 `yaml:"w"`
	H float64 `yaml:"h"`
}

type replayStep struct {
	Click  []float64    `yaml:"click,omitempty"`
	Key    string       `yaml:"key,omitempty"`
	WaitMS int          `yaml:"wait_ms,omitempty"`
	Wheel  *replayWheel `yaml:"wheel,omitempty"`
	Resize *replaySize  `yaml:"resize,omitempty"`
}

type replayWheel struct {
	DeltaY float64 `yaml:"delta_y"`
	Ctrl   bool    `yaml:"ctrl"`
}

func parseScript(data []byte) (replayScript, error) {
	var s replayScript
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Steps) == 0 {
		return s, fmt.Errorf("script has no steps")
	}
	for i, st := range s.Steps {
		set := 0
		if st.Click != nil {
			set++
			if len(st.Click) != 2 {
				return s, fmt.Errorf("steps[%d].click needs [x, y]", i)
			}
		}
		if st.Key != "" {
			set++
		}
		if st.WaitMS != 0 {
			set++
			if st.WaitMS < 0 {
				return s, fmt.Errorf("steps[%d].wait_ms must not be negative", i)
			}
		}
		if st.Wheel != nil {
			set++
		}
		if st.Resize != nil {
			set++
		}
		if set != 1 {
			return s, fmt.Errorf("steps[%d] must set exactly one of click, key, wait_ms, wheel, resize", i)
		}
	}
	return s, nil
}

func (st replayStep) run(ctx context.Context, c *polyscoresdk.Client, id string) (*polyscoresdk.Session, error) {
	var sess polyscoresdk.Session
	var err error
	switch {
	case st.Click != nil:
		sess, err = c.Click(ctx, id, st.Click[0], st.Click[1], time.Time{})
	case st.Key != "":
		sess, err = c.Key(ctx, id, st.Key)
	case st.Wheel != nil:
		sess, err = c.Wheel(ctx, id, st.Wheel.DeltaY, st.Wheel.Ctrl)
	case st.Resize != nil:
		sess, err = c.Resize(ctx, id, st.Resize.W, st.Resize.H)
	default:
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(st.WaitMS) * time.Millisecond):
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func replayCmd() *cobra.Command {
	var serverURL, basePath, token, apiKey, player, overlay string
	var ack bool
	cmd := &cobra.Command{
		Use:   "replay <script.yml>",
		Short: "Play a scripted session against a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			script, err := parseScript(data)
			if err != nil {
				return err
			}
			if serverURL == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				serverURL = "http://" + dialAddr(cfg.Server.Addr)
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
			}
			c := polyscoresdk.New(serverURL)
			if basePath != "" {
				c.BasePath = basePath
			}
			c.BearerToken, c.APIKey, c.PlayerID = token, apiKey, player

			ctx := cmd.Context()
			sess, err := c.StartSession(ctx, polyscoresdk.StartOptions{
				ImageW: script.Image.W, ImageH: script.Image.H,
				ContainerW: script.Container.W, ContainerH: script.Container.H,
				GroundTruthURL: script.GroundTruthURL,
			})
			if err != nil {
				return err
			}
			for i, st := range script.Steps {
				next, err := st.run(ctx, c, sess.ID)
				if err != nil {
					return fmt.Errorf("step %d: %w", i+1, err)
				}
				if next != nil {
					sess = *next
				}
			}
			// a countdown may have fired during the last wait
			if sess, err = c.Session(ctx, sess.ID); err != nil {
				return err
			}
			if overlay != "" {
				fh, err := os.Create(overlay)
				if err != nil {
					return err
				}
				err = c.Overlay(ctx, sess.ID, fh)
				fh.Close()
				if err != nil {
					return err
				}
			}
			if ack && sess.Feedback != nil {
				if _, err := c.Ack(ctx, sess.ID); err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(sess)
			}
			fmt.Printf("session %s: %s, %d points\n", sess.ID, sess.State, len(sess.Points))
			if sess.Feedback != nil {
				fmt.Println(sess.Feedback.Headline)
				fmt.Println(sess.Feedback.Detail)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (default from config server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path")
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "player key")
	cmd.Flags().StringVar(&player, "player", "", "player id for servers that allow anonymous play")
	cmd.Flags().StringVar(&overlay, "overlay", "", "save the final overlay PNG here")
	cmd.Flags().BoolVar(&ack, "ack", false, "acknowledge the result and leave when done")
	return cmd
}

// dialAddr turns a listen address like ":8080" into one a client can dial.
func dialAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	if strings.HasPrefix(addr, "0.0.0.0:") {
		return "127.0.0.1" + strings.TrimPrefix(addr, "0.0.0.0")
	}
	return addr
}
