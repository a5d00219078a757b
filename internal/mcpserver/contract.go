package mcpserver

// LinkSyntax describes how notes reference each other and how link
// targets are resolved. It is served as a resource and through a tool so
// LLM clients write links the knowledge base can follow.
const LinkSyntax = `# Blockbase Link Syntax

Notes are Markdown files in the vault. Every file is parsed into a tree of
blocks (Document, Heading, Paragraph, List, ListItem, Table, CodeFence, ...).
Links found in block text become edges between blocks.

## Writing links

` + "```" + `markdown
---
title: Weekly standup      # optional, names the note for links
aliases: [standup]          # optional, extra names
---

# Weekly standup

- [[alice]] to review the [[design-doc]]
- Bob to update [[project-x/roadmap|the roadmap]]
- Embeds use a bang: ![[diagram]]
- Relative Markdown links work too: [plan](plans/q3.md)
` + "```" + `

## Link targets

A target names a note by any of:

1. its front matter ` + "`" + `title` + "`" + `, or its first level-1 heading when no title is set;
2. one of its ` + "`" + `aliases` + "`" + `;
3. its file name, with or without the ` + "`" + `.md` + "`" + ` extension;
4. its path relative to the vault, with or without the extension;
5. a folder name or folder path.

Matching ignores case and surrounding whitespace. ` + "`" + `#heading` + "`" + ` and ` + "`" + `|display` + "`" + `
suffixes are dropped before matching. URLs with a scheme are never links.

## Resolution

When several blocks carry the same name, the one closest in the vault tree to
the linking note wins. Remaining ties go to the block that comes first in
vault order. A target that names nothing is reported by ` + "`" + `list_broken_links` + "`" + `
and resolves automatically once a matching note appears.

## Paths

Tool paths are relative to the vault root and use forward slashes. An empty
path addresses the vault itself. Paths may not leave the vault.
`
