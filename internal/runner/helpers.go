package runner

import (
	"fmt"

	"github.com/cronflow/cronflow/internal/models"
)

// Per-language helper stubs copied into the working directory before a run.
// They let user scripts read input, write output/condition, and read/write
// variables through plain file I/O against the handoff files.

const shellHelper = `#!/bin/bash
# cronflow script helpers, sourced before the user script.

cronflow_input() {
  cat input.json 2>/dev/null
}

cronflow_event() {
  cat event.json 2>/dev/null
}

cronflow_output() {
  printf '%s\n' "$1" > output.json
}

cronflow_set_condition() {
  case "$1" in
    true|TRUE|1|yes) printf '{"condition": true}\n' > condition.json ;;
    *) printf '{"condition": false}\n' > condition.json ;;
  esac
}

cronflow_get_variable() {
  jq -r --arg k "$1" '.[$k] // empty' variables.json 2>/dev/null
}

cronflow_set_variable() {
  local tmp
  tmp=$(mktemp)
  jq --arg k "$1" --arg v "$2" '.[$k] = $v' variables.json > "$tmp" 2>/dev/null && mv "$tmp" variables.json
}
`

const pythonHelper = `import json
import sys


class _Cronflow:
    def input(self):
        try:
            with open("input.json", "r") as f:
                return json.load(f)
        except (FileNotFoundError, json.JSONDecodeError):
            return {}

    def event(self):
        try:
            with open("event.json", "r") as f:
                return json.load(f)
        except (FileNotFoundError, json.JSONDecodeError):
            return {}

    def output(self, data):
        with open("output.json", "w") as f:
            json.dump(data, f, indent=2)

    def set_condition(self, condition):
        with open("condition.json", "w") as f:
            json.dump({"condition": bool(condition)}, f)
        return bool(condition)

    def get_variable(self, key):
        try:
            with open("variables.json", "r") as f:
                return json.load(f).get(key)
        except (FileNotFoundError, json.JSONDecodeError):
            return None

    def set_variable(self, key, value):
        try:
            with open("variables.json", "r") as f:
                data = json.load(f)
        except (FileNotFoundError, json.JSONDecodeError):
            data = {}
        data[key] = value
        with open("variables.json", "w") as f:
            json.dump(data, f, indent=2)


cronflow = _Cronflow()
`

const nodeHelper = `const fs = require('fs');

function readJSON(name, fallback) {
  try {
    return JSON.parse(fs.readFileSync(name, 'utf8'));
  } catch (err) {
    return fallback;
  }
}

global.cronflow = {
  input() {
    return readJSON('input.json', {});
  },
  event() {
    return readJSON('event.json', {});
  },
  output(data) {
    fs.writeFileSync('output.json', JSON.stringify(data, null, 2));
  },
  setCondition(condition) {
    fs.writeFileSync('condition.json', JSON.stringify({ condition: Boolean(condition) }));
    return Boolean(condition);
  },
  getVariable(key) {
    const vars = readJSON('variables.json', {});
    return vars[key];
  },
  setVariable(key, value) {
    const vars = readJSON('variables.json', {});
    vars[key] = value;
    fs.writeFileSync('variables.json', JSON.stringify(vars, null, 2));
  },
};
`

// helperFor returns the helper stub file name and content for a script type.
func helperFor(scriptType string) (string, string, error) {
	switch scriptType {
	case models.ScriptShell:
		return "cronflow.sh", shellHelper, nil
	case models.ScriptPython:
		return "cronflow.py", pythonHelper, nil
	case models.ScriptNode:
		return "cronflow.js", nodeHelper, nil
	default:
		return "", "", fmt.Errorf("unsupported script type %q", scriptType)
	}
}

// scriptFileFor returns the user script file name for a script type.
func scriptFileFor(scriptType string) (string, error) {
	switch scriptType {
	case models.ScriptShell:
		return "script.sh", nil
	case models.ScriptPython:
		return "script.py", nil
	case models.ScriptNode:
		return "script.js", nil
	default:
		return "", fmt.Errorf("unsupported script type %q", scriptType)
	}
}

// interpreterArgs returns the interpreter and arguments that run the user
// script with the helper stub loaded first. The command must be executed
// with the working directory set to the sandbox dir; all paths are relative.
func interpreterArgs(scriptType string) (string, []string, error) {
	switch scriptType {
	case models.ScriptShell:
		return "bash", []string{"-c", "source ./cronflow.sh; source ./script.sh"}, nil
	case models.ScriptPython:
		return "python3", []string{"-c", `exec(open("cronflow.py").read()); exec(open("script.py").read())`}, nil
	case models.ScriptNode:
		return "node", []string{"-e", `require('./cronflow.js'); require('./script.js');`}, nil
	default:
		return "", nil, fmt.Errorf("unsupported script type %q", scriptType)
	}
}
