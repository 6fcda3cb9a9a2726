// internal/extraction/scripts.go
package extraction

import (
	"encoding/json"
	"fmt"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

// fallbackPrelude picks the first node matching one of the candidates. It
// runs an exact text pass and then a folded one, like the resolver, but it
// does not require the node to be visible.
const fallbackPrelude = `
const __norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
const __fold = (s) => __norm(s).normalize('NFC').toLocaleLowerCase();
const __pick = (candidates) => {
	for (const fold of [false, true]) {
		for (const c of candidates) {
			if (fold && !c.text) continue;
			let nodes;
			try { nodes = document.querySelectorAll(c.selector); } catch (e) { continue; }
			for (const el of nodes) {
				if (!c.text) return el;
				const own = el.textContent || '';
				if (fold ? __fold(own) === __fold(c.text) : own.trim() === c.text) return el;
			}
		}
	}
	return null;
};
`

// clickFallbackScript clicks the picked node through the DOM API and
// returns whether a node was found.
func clickFallbackScript(candidates []schemas.ElementQuery) string {
	return fmt.Sprintf(`(function(candidates) {
	%s
	const el = __pick(candidates);
	if (!el) return false;
	el.scrollIntoView({ block: 'center' });
	el.click();
	return true;
})(%s)`, fallbackPrelude, encodeCandidates(candidates))
}

// fillFallbackScript assigns value to the picked input and fires the events
// form handlers listen to.
func fillFallbackScript(candidates []schemas.ElementQuery, value string) string {
	return fmt.Sprintf(`(function(candidates, value) {
	%s
	const el = __pick(candidates);
	if (!el) return false;
	el.scrollIntoView({ block: 'center' });
	el.focus();
	el.value = value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})(%s, %s)`, fallbackPrelude, encodeCandidates(candidates), encodeString(value))
}

// tableMarkupScript returns the outer HTML of the first node matching
// selector, or a placeholder when there is none.
func tableMarkupScript(selector string) string {
	return fmt.Sprintf(`(function(sel) {
	const t = document.querySelector(sel);
	return t ? t.outerHTML : %s;
})(%s)`, encodeString(noTableMarkup), encodeString(selector))
}

const noTableMarkup = "No table found"

func encodeCandidates(candidates []schemas.ElementQuery) string {
	b, err := json.Marshal(candidates)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func encodeString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
