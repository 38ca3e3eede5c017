package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ipublishingjp/selenium-ide/pkg/variables"
)

// Builtins returns a fresh table of the built-in commands.
func Builtins() map[string]Executor {
	t := map[string]Executor{
		"open":        open,
		"click":       click,
		"clickAt":     click,
		"doubleClick": doubleClick,
		"type":        typeText,
		"sendKeys":    sendKeys,
		"select":      selectOption,
		"check":       setChecked(true),
		"uncheck":     setChecked(false),

		"executeScript":      executeScript(false),
		"executeAsyncScript": executeScript(true),
		"runScript":          runScript,

		"store":           store,
		"storeJson":       storeJSON,
		"storeText":       storeText,
		"storeValue":      storeValue,
		"storeTitle":      storeTitle,
		"storeXpathCount": storeXpathCount,

		"echo":          echo,
		"pause":         pause,
		"setWindowSize": setWindowSize,
		"close":         closeWindow,

		"waitForElementPresent":    waitForPresent(true),
		"waitForElementNotPresent": waitForPresent(false),
		"waitForElementVisible":    waitForVisible,
	}
	for name, check := range checks {
		t["assert"+name] = assertion("assert"+name, check, false)
		t["verify"+name] = assertion("verify"+name, check, true)
	}
	return t
}

func open(ctx context.Context, env *Env, target, _ string) (Result, error) {
	u, err := env.ResolveURL(target)
	if err != nil {
		return Result{}, err
	}
	return Result{}, env.Driver.Open(ctx, u)
}

func click(ctx context.Context, env *Env, target, _ string) (Result, error) {
	return Result{}, env.Driver.Click(ctx, target)
}

func doubleClick(ctx context.Context, env *Env, target, _ string) (Result, error) {
	return Result{}, env.Driver.DoubleClick(ctx, target)
}

func typeText(ctx context.Context, env *Env, target, value string) (Result, error) {
	return Result{}, env.Driver.Type(ctx, target, value)
}

func sendKeys(ctx context.Context, env *Env, target, value string) (Result, error) {
	return Result{}, env.Driver.SendKeys(ctx, target, value)
}

func selectOption(ctx context.Context, env *Env, target, value string) (Result, error) {
	return Result{}, env.Driver.Select(ctx, target, value)
}

func setChecked(checked bool) Executor {
	return func(ctx context.Context, env *Env, target, _ string) (Result, error) {
		return Result{}, env.Driver.SetChecked(ctx, target, checked)
	}
}

// Scripts use the recorded target so that ${name} markers reach the browser
// as arguments[i] instead of being spliced into the source.
func executeScript(async bool) Executor {
	return func(ctx context.Context, env *Env, _, value string) (Result, error) {
		script, args, err := env.Vars.InterpolateScript(env.Command.Target)
		if err != nil {
			return Result{}, err
		}
		var out any
		if async {
			out, err = env.Driver.ExecuteAsyncScript(ctx, script, args)
		} else {
			out, err = env.Driver.ExecuteScript(ctx, script, args)
		}
		if err != nil {
			return Result{}, err
		}
		if value != "" {
			env.Vars.Set(value, out)
		}
		return Result{}, nil
	}
}

func runScript(ctx context.Context, env *Env, _, _ string) (Result, error) {
	script, args, err := env.Vars.InterpolateScript(env.Command.Target)
	if err != nil {
		return Result{}, err
	}
	_, err = env.Driver.ExecuteScript(ctx, script, args)
	return Result{}, err
}

func store(_ context.Context, env *Env, target, value string) (Result, error) {
	if value == "" {
		return Result{}, fmt.Errorf("store: variable name is required")
	}
	env.Vars.Set(value, target)
	return Result{}, nil
}

func storeJSON(_ context.Context, env *Env, target, value string) (Result, error) {
	if value == "" {
		return Result{}, fmt.Errorf("storeJson: variable name is required")
	}
	var v any
	if err := json.Unmarshal([]byte(target), &v); err != nil {
		return Result{}, fmt.Errorf("storeJson: %w", err)
	}
	env.Vars.Set(value, v)
	return Result{}, nil
}

func storeText(ctx context.Context, env *Env, target, value string) (Result, error) {
	text, err := env.Driver.Text(ctx, target)
	if err != nil {
		return Result{}, err
	}
	env.Vars.Set(value, text)
	return Result{}, nil
}

func storeValue(ctx context.Context, env *Env, target, value string) (Result, error) {
	v, err := env.Driver.Value(ctx, target)
	if err != nil {
		return Result{}, err
	}
	env.Vars.Set(value, v)
	return Result{}, nil
}

// storeTitle takes the variable name as its target.
func storeTitle(ctx context.Context, env *Env, target, value string) (Result, error) {
	name := target
	if name == "" {
		name = value
	}
	title, err := env.Driver.Title(ctx)
	if err != nil {
		return Result{}, err
	}
	env.Vars.Set(name, title)
	return Result{}, nil
}

func storeXpathCount(ctx context.Context, env *Env, target, value string) (Result, error) {
	if !strings.HasPrefix(target, "xpath=") && !strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "(") {
		target = "xpath=" + target
	}
	n, err := env.Driver.Count(ctx, target)
	if err != nil {
		return Result{}, err
	}
	env.Vars.Set(value, n)
	return Result{}, nil
}

func echo(_ context.Context, env *Env, target, _ string) (Result, error) {
	env.Log.Info("echo", "message", target)
	return Result{Message: target}, nil
}

func pause(ctx context.Context, _ *Env, target, value string) (Result, error) {
	raw := target
	if raw == "" {
		raw = value
	}
	d, err := millis(raw, 0)
	if err != nil {
		return Result{}, fmt.Errorf("pause: %w", err)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return Result{}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func setWindowSize(ctx context.Context, env *Env, target, _ string) (Result, error) {
	w, h, ok := strings.Cut(strings.ToLower(target), "x")
	if !ok {
		return Result{}, fmt.Errorf("setWindowSize: want WIDTHxHEIGHT, got %q", target)
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil {
		return Result{}, fmt.Errorf("setWindowSize: want WIDTHxHEIGHT, got %q", target)
	}
	return Result{}, env.Driver.SetWindowSize(ctx, width, height)
}

func closeWindow(ctx context.Context, env *Env, _, _ string) (Result, error) {
	return Result{}, env.Driver.Close(ctx)
}

func waitForPresent(present bool) Executor {
	return func(ctx context.Context, env *Env, target, value string) (Result, error) {
		d, err := millis(value, env.Driver.ImplicitWait())
		if err != nil {
			return Result{}, err
		}
		return Result{}, env.Driver.WaitForPresent(ctx, target, present, d)
	}
}

func waitForVisible(ctx context.Context, env *Env, target, value string) (Result, error) {
	d, err := millis(value, env.Driver.ImplicitWait())
	if err != nil {
		return Result{}, err
	}
	return Result{}, env.Driver.WaitForVisible(ctx, target, d)
}

// millis parses a millisecond count. Empty text yields def.
func millis(raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration %q (milliseconds)", raw)
	}
	return time.Duration(n) * time.Millisecond, nil
}

// check compares what the page (or a variable) holds against the expected
// text. It returns the actual value and whether the check passed.
type check func(ctx context.Context, env *Env, target, value string) (expected, actual string, ok bool, err error)

var checks = map[string]check{
	"": func(_ context.Context, env *Env, target, value string) (string, string, bool, error) {
		v, err := env.Vars.Get(target)
		if err != nil {
			return "", "", false, err
		}
		actual := variables.Format(v)
		return value, actual, actual == value, nil
	},
	"Text": func(ctx context.Context, env *Env, target, value string) (string, string, bool, error) {
		text, err := env.Driver.Text(ctx, target)
		return value, text, strings.TrimSpace(text) == strings.TrimSpace(value), err
	},
	"NotText": func(ctx context.Context, env *Env, target, value string) (string, string, bool, error) {
		text, err := env.Driver.Text(ctx, target)
		return "not " + value, text, strings.TrimSpace(text) != strings.TrimSpace(value), err
	},
	"Title": func(ctx context.Context, env *Env, target, _ string) (string, string, bool, error) {
		title, err := env.Driver.Title(ctx)
		return target, title, title == target, err
	},
	"Value": func(ctx context.Context, env *Env, target, value string) (string, string, bool, error) {
		v, err := env.Driver.Value(ctx, target)
		return value, v, v == value, err
	},
	"ElementPresent": func(ctx context.Context, env *Env, target, _ string) (string, string, bool, error) {
		n, err := env.Driver.Count(ctx, target)
		return "present", strconv.Itoa(n) + " matches", n > 0, err
	},
	"ElementNotPresent": func(ctx context.Context, env *Env, target, _ string) (string, string, bool, error) {
		n, err := env.Driver.Count(ctx, target)
		return "not present", strconv.Itoa(n) + " matches", n == 0, err
	},
}

func assertion(name string, c check, soft bool) Executor {
	return func(ctx context.Context, env *Env, target, value string) (Result, error) {
		expected, actual, ok, err := c(ctx, env, target, value)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, &AssertionError{Command: name, Expected: expected, Actual: actual, Soft: soft}
		}
		return Result{}, nil
	}
}
