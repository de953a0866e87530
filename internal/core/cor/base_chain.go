// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// BaseChain runs its commands in order.
//
// Logic Flow:
//  1. A span is opened for the chain and a child span for every command.
//  2. Once the context holds an error the remaining commands are skipped,
//     unless the chain was told to continue on failure.
//  3. A command whose IsExecutable check fails is skipped and its input is
//     left in place for the next command.
//  4. After each executed command, the value it left in CtxOut becomes the
//     CtxIn of the next one.
//  5. The chain span is closed as Ok or Error depending on the context.
package cor

import (
	"fmt"

	"go.opentelemetry.io/otel/codes"
)

type BaseChain struct {
	BaseCommand
	continueOnFailure bool
	commands          []Command
}

func NewBaseChain(name string) *BaseChain {
	return &BaseChain{BaseCommand: *NewBaseCommand(name)}
}

func (c *BaseChain) ContinueOnFailure(continueOnFailure bool) Chain {
	c.continueOnFailure = continueOnFailure
	return c
}

func (c *BaseChain) AddCommand(command Command) Chain {
	c.commands = append(c.commands, command)
	return c
}

// Commands returns the registered commands in execution order.
func (c *BaseChain) Commands() []Command {
	out := make([]Command, len(c.commands))
	copy(out, c.commands)
	return out
}

func (c *BaseChain) IsExecutable(context Context) bool {
	return context != nil && context.GetContext() != nil
}

func (c *BaseChain) Execute(chCtx Context) {
	parentCtx := chCtx.GetContext()
	outerCtx, chainSpan := c.Tracer.Start(parentCtx, fmt.Sprintf("%s_execute", c.GetName()))
	defer chainSpan.End()
	defer chCtx.SetContext(parentCtx)

	for _, command := range c.commands {
		if chCtx.HasErrors() && !c.continueOnFailure {
			break
		}
		if err := outerCtx.Err(); err != nil {
			chCtx.AddError(c.GetName(), err)
			break
		}

		commandCtx, commandSpan := c.Tracer.Start(outerCtx, command.GetName())
		if !command.IsExecutable(chCtx) {
			commandSpan.SetStatus(codes.Unset, "skipped")
			commandSpan.End()
			continue
		}

		chCtx.SetContext(commandCtx)
		command.Execute(chCtx)
		chCtx.SetContext(outerCtx)

		if chCtx.HasErrors() {
			commandSpan.SetStatus(codes.Error, "command failed")
		} else {
			commandSpan.SetStatus(codes.Ok, "")
		}
		commandSpan.End()

		out := chCtx.Get(CtxOut)
		chCtx.Remove(CtxIn)
		if out != nil {
			chCtx.Add(CtxIn, out)
		}
		chCtx.Remove(CtxOut)
	}

	if chCtx.HasErrors() {
		chainSpan.SetStatus(codes.Error, "chain failed")
	} else {
		chainSpan.SetStatus(codes.Ok, "")
	}
}
