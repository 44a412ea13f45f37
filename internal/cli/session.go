package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/memlens/internal/errors"
	"github.com/coral-mesh/memlens/internal/memory"
)

// withSession loads the environment, attaches and runs fn. The session is
// detached when fn returns.
func (o *globalOptions) withSession(cmd *cobra.Command, fn func(env *environment, sess *memory.Session) error) error {
	env, err := o.load(cmd)
	if err != nil {
		return err
	}
	sess, err := env.attach(cmd.Context())
	if err != nil {
		return err
	}
	defer errors.DeferClose(env.logger, sess, "Failed to detach from target")

	return fn(env, sess)
}
