package bench

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/testground/feedbench/pkg/feed"
)

// Config describes one benchmark run.
type Config struct {
	// Writers are the endpoints every update is uploaded to; Stamps[i] pays
	// for the uploads to Writers[i].
	Writers []string `validate:"required,min=1,dive,url"`
	Stamps  []string `validate:"dive,hexadecimal,len=64"`
	// Readers are the endpoints updates are downloaded from and verified.
	// Without readers, selected iterations only measure the sync wait.
	Readers []string `validate:"dive,url"`

	// Updates is the number of feed updates to publish.
	Updates int `validate:"min=1"`
	// TopicSeed seeds the topic generator.
	TopicSeed int32
	// DownloadIteration selects every n-th update for read-back verification.
	DownloadIteration int `validate:"min=1"`

	FeedType feed.Type `validate:"required"`
	Identity feed.Identity
}

var configValidator = validator.New()

// Validate returns a *ConfigurationError describing the first problem found
// with c, or nil.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q (value: %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return configErrorf("%s", strings.Join(msgs, "; "))
		}
		return configErrorf("%v", err)
	}

	if c.DownloadIteration > c.Updates {
		return configErrorf("download iteration %d is higher than the feed update count: %d", c.DownloadIteration, c.Updates)
	}
	if len(c.Stamps) != len(c.Writers) {
		return configErrorf("got different amount of writers %d than stamps %d", len(c.Writers), len(c.Stamps))
	}
	if err := c.FeedType.Validate(); err != nil {
		return configErrorf("%v", err)
	}
	return nil
}
