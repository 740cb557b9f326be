package mcpserver

// ReferenceFormatContract describes how references are written in text and
// what the render tools turn them into.
const ReferenceFormatContract = `# Reference Format Contract

Text passed to ` + "`" + `render_references` + "`" + ` may contain references to profiles,
messages and addressable documents. Everything else in the text is left byte-for-byte intact.

## Identifiers

| Prefix      | Refers to                         | Rendered as                           |
|-------------|-----------------------------------|---------------------------------------|
| npub1...    | an author                         | @mention link to /p/<token>           |
| nprofile1...| an author, with relay hints       | @mention link to /p/<token>           |
| note1...    | a single message                  | link to /e/<token>                    |
| nevent1...  | a single message, with hints      | link to /e/<token>                    |
| naddr1...   | an addressable document           | link or card (/article/ or /d/)       |

A plain coordinate ` + "`" + `<kind>:<author-hex>:<slug>` + "`" + ` also names an addressable document.

## Where references are recognised

1. **Bare text** must carry the scheme: ` + "`" + `nostr:npub1...` + "`" + `. Tokens without the
   scheme are not rewritten.
2. **Anchors** whose href is exactly a token, with or without the scheme:
   ` + "`" + `<a href="nostr:naddr1...">my article</a>` + "`" + `. The anchor text becomes the link
   label; a leading ` + "`" + `@` + "`" + ` is dropped for mentions.
3. Tokens inside attributes or inside other links are never touched.

## Cards

Add a ` + "`" + `data-embed` + "`" + ` attribute or the ` + "`" + `nostr-card` + "`" + ` class to an anchor to
ask for a card instead of a link:

` + "```" + `html
<a data-embed href="nostr:naddr1...">Deep dive</a>
` + "```" + `

Pictures (kind 20), long-form articles (kind 30023) and other addressable documents get cards.
Profiles and messages are always links.

## Unresolvable references

References that cannot be found render as plain links with a truncated id
(` + "`" + `@deadbeef...` + "`" + `). Tokens that cannot be decoded are left exactly as written.

## Importing events

Use ` + "`" + `import_events` + "`" + ` with an http(s) URL or a ` + "`" + `data:application/json;base64,...` + "`" + `
URI pointing at a JSON event, a JSON array of events, or JSON Lines. Imported events are
resolvable immediately.
`
