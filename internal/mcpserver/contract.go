package mcpserver

// OutlineKindsContract describes the entity kinds returned by get_outline
// and the conventions of the build tools.
const OutlineKindsContract = `# inkbuild Outline Contract

get_outline returns a tree of entities recognised line by line in an ink
script. Comments (` + "`" + `//` + "`" + ` and ` + "`" + `/* */` + "`" + `) are ignored.

## Kinds

| kind                 | source line                     | children            |
|----------------------|---------------------------------|---------------------|
| named-block          | ` + "`" + `=== knot ===` + "`" + `, ` + "`" + `== function f ==` + "`" + ` | nested blocks, etc. |
| nested-block         | ` + "`" + `= stitch` + "`" + `                      | labels, variables   |
| include              | ` + "`" + `INCLUDE path/to/file.ink` + "`" + `      | none                |
| external-declaration | ` + "`" + `EXTERNAL name(args)` + "`" + `           | none                |
| constant             | ` + "`" + `CONST NAME = value` + "`" + `            | none                |
| variable             | ` + "`" + `VAR name = value` + "`" + `              | none                |
| list                 | ` + "`" + `LIST name = a, (b), c` + "`" + `         | list-item           |
| list-item            | one entry of a LIST             | none                |
| label                | ` + "`" + `* (name)` + "`" + ` or ` + "`" + `- (name)` + "`" + `         | none                |

## Fields

- ` + "`" + `range` + "`" + `: zero-based line and character span of the name.
- ` + "`" + `scope` + "`" + `: for blocks, the lines up to the next sibling block.
- ` + "`" + `detail` + "`" + `: the written path of an include, "function" for function
  knots, the raw item list of a LIST.

## Paths

Tools take paths relative to the workspace root with forward slashes
(e.g. ` + "`" + `chapters/one.ink` + "`" + `). Include paths inside scripts resolve against
the including file's directory unless the server runs in root mode.

## Diagnostics

Each diagnostic has a ` + "`" + `severity` + "`" + ` (error, warning, info), a ` + "`" + `range` + "`" + `, a
` + "`" + `message` + "`" + ` and a ` + "`" + `source` + "`" + ` naming the stage that produced it: include,
external, compiler, emit, outline or pipeline.
`
