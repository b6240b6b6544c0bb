/*
Package dom provides the page document that markup is parsed into and that
scripts manipulate through the `document` global.

Nodes are golang.org/x/net/html nodes. Parsing goes through goquery after
charset detection (chardet) and optional sanitizing (bluemonday). CSS
selectors are answered by goquery, XPath by htmlquery.

Every mutation made through Document is appended to a change log that hosts
can drain with ResetChanges.

Bind exposes a small DOM surface to scripts: createElement, createTextNode,
getElementById, querySelector(All), getElementsByTagName,
getElementsByClassName, xpath, and element members such as tagName, id,
className, textContent, innerHTML, children, style and the attribute and
child-list methods. Host errors surface in script as thrown exceptions.
*/
package dom
