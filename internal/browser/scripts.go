// internal/browser/scripts.go
package browser

import (
	"encoding/json"
	"fmt"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

// handleAttr is set on nodes returned by Locate so later actions can address
// exactly that node with a plain attribute selector.
const handleAttr = "data-totem-handle"

// domHelpers is prepended to every script that filters by visibility or text.
const domHelpers = `
const __norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
const __fold = (s) => __norm(s).normalize('NFC').toLocaleLowerCase();
const __visible = (el) => {
	const rect = el.getBoundingClientRect();
	const style = window.getComputedStyle(el);
	return rect.width > 0 && rect.height > 0 &&
		style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
};
const __textMatches = (el, text, fold) => {
	if (!text) return true;
	const own = el.textContent || '';
	return fold ? __fold(own) === __fold(text) : own.trim() === text;
};
`

// locateScript finds the first visible node matching the query, tags it, and
// returns true. It returns false when nothing visible matched.
func locateScript(q schemas.ElementQuery, token string) string {
	return fmt.Sprintf(`(function(sel, text, fold, attr, token) {
	%s
	let nodes;
	try { nodes = document.querySelectorAll(sel); } catch (e) { return false; }
	for (const el of nodes) {
		if (__textMatches(el, text, fold) && __visible(el)) {
			el.setAttribute(attr, token);
			return true;
		}
	}
	return false;
})(%s, %s, %t, %s, %s)`, domHelpers, jsonEncode(q.Selector), jsonEncode(q.Text), q.FoldText, jsonEncode(handleAttr), jsonEncode(token))
}

// inspectScript reports the static state of the first node matching sel.
func inspectScript(selector string) string {
	return fmt.Sprintf(`(function(sel) {
	%s
	let el = null;
	try { el = document.querySelector(sel); } catch (e) { el = null; }
	if (!el) return { found: false, visible: false, className: '', disabled: false, ariaDisabled: '' };
	return {
		found: true,
		visible: __visible(el),
		className: (typeof el.className === 'string' ? el.className : el.getAttribute('class')) || '',
		disabled: el.hasAttribute('disabled'),
		ariaDisabled: el.getAttribute('aria-disabled') || ''
	};
})(%s)`, domHelpers, jsonEncode(selector))
}

// textsScript returns the trimmed text of every node matching sel.
func textsScript(selector string) string {
	return fmt.Sprintf(`(function(sel) {
	let nodes;
	try { nodes = document.querySelectorAll(sel); } catch (e) { return []; }
	return Array.from(nodes, (el) => (el.textContent || '').trim());
})(%s)`, jsonEncode(selector))
}

// cellsScript returns, for every row matching rowSel, the trimmed text of
// the cells matching cellSel inside it. Rows without cells yield [].
func cellsScript(rowSelector, cellSelector string) string {
	return fmt.Sprintf(`(function(rowSel, cellSel) {
	let rows;
	try { rows = document.querySelectorAll(rowSel); } catch (e) { return []; }
	return Array.from(rows, (row) => {
		let cells;
		try { cells = row.querySelectorAll(cellSel); } catch (e) { return []; }
		return Array.from(cells, (c) => (c.textContent || '').trim());
	});
})(%s, %s)`, jsonEncode(rowSelector), jsonEncode(cellSelector))
}

// clearScript empties an input and notifies listeners before keys are sent.
func clearScript(selector string) string {
	return fmt.Sprintf(`(function(sel) {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.value = '';
	el.dispatchEvent(new Event('input', { bubbles: true }));
	return true;
})(%s)`, jsonEncode(selector))
}

// jsonEncode renders v as a JS literal. Strings are escaped by the encoder.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
